// Package postgres implements the hub's durable stores on PostgreSQL:
// users, catalog, subscriptions, the nonce ledger, maintenance locks and
// processed-webhook markers. Every mutation is a single statement guarded
// by a uniqueness constraint so concurrent hub instances stay consistent.
package postgres
