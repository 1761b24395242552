// Package cli implements spokehub-admin, the operator command line for a
// hub deployment.
//
// # Commands
//
// keygen: Generate the RS256 signing keypair
//
//	spokehub-admin keygen -bits 2048 -out ./keys
//
// apikey: Issue a spoke API key and print its registry entry
//
//	spokehub-admin apikey -spoke chess -url https://chess.example.com
//
// migrate: Apply pending database migrations
//
//	spokehub-admin migrate
//
// import-catalog: Upsert products and apps from a YAML file
//
//	spokehub-admin import-catalog -file catalog.yaml
//
// seed-user: Create a development user, optionally subscribed to a product
//
//	spokehub-admin seed-user -username alice -email alice@example.com -product chess -days 30
//
// # Configuration
//
// Commands that touch the database read SPOKEHUB_DATABASE_URL.
package cli
