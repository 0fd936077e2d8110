//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the accounts store
// interfaces.  It is designed for deployment on Google Cloud Platform and supports
// multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - User: User accounts, keyed by user id
//   - UserEmail: Uniqueness index from normalized email to user id
//   - AuthToken: Confirmation and reset tokens, keyed by token digest
//
// # Namespacing
//
// All stores support Datastore namespaces for multi-tenant applications.
// Pass a namespace when creating stores to isolate data between tenants:
//
//	userStore := gae.NewUserStore(client, "tenant-123")
//	tokenStore := gae.NewTokenStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	userStore := gae.NewUserStore(client, "")  // default namespace
package gae
