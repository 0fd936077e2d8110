//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the accounts store interfaces.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and is suitable for production deployments requiring relational database storage.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: User accounts, unique on normalized_email
//   - auth_tokens: Email confirmation and password reset tokens, keyed by token digest
//
// # Usage
//
//	db, _ := gormstore.OpenPostgres(dsn)
//	gormstore.AutoMigrate(db)
//	userStore := gormstore.NewUserStore(db)
//	tokenStore := gormstore.NewTokenStore(db)
package gorm
