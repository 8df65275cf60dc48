// Package crud generates the six REST endpoints of a resource (list, create, delete all, get one,
// update, delete one) from a Go struct and a storage Backend.
//
// A resource is described by a Schema, resolved once from the struct's tags:
//
//	type Potato struct {
//		ID    int    `json:"id" crud:"pk,auto"`
//		Color string `json:"color"`
//	}
//
//	schema, _ := crud.NewSchema[Potato]()
//	router, _ := crud.NewRouter(memory.New(schema, nil), crud.WithPagination(10))
//	_ = router.Register(mux)
//
// Backends live in sub-packages (memory, sqlstore, pgstore, mongostore, redisstore) and convert
// their native errors to the taxonomy in errors.go, so handlers never see driver errors for the
// not-found, conflict and partial-delete outcomes.
package crud
