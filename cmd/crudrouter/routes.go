package crudrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/edgeflare/crudrouter/internal/demo"
	"github.com/edgeflare/crudrouter/pkg/crud/memory"
	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the generated routes",
	Long:  `Prints the routes serve would mount with the current configuration, without connecting to a backend`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The route table does not depend on the backend.
		res := demo.Resources{
			Potato: memory.New(demo.PotatoSchema, nil),
			Carrot: memory.New(demo.CarrotSchema, nil),
		}
		_, routes, err := newServer(context.Background(), cfg, res, nil)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(routes)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "METHOD\tPATH\tOPERATION\tRESPONSE\tTAGS\tPROTECTED")
		for _, r := range routes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n", r.Method, r.Path, r.Operation, r.ResponseType, strings.Join(r.Tags, ","), r.Protected)
		}
		return tw.Flush()
	},
}

func init() {
	addServerFlags(routesCmd)
	routesCmd.Flags().Bool("json", false, "Print routes as JSON")
	rootCmd.AddCommand(routesCmd)
}
