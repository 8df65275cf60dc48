package main

import "github.com/edgeflare/crudrouter/cmd/crudrouter"

func main() {
	crudrouter.Main()
}
