// Package stages holds the records exchanged by the reference stages.
//
// The stages themselves live in subpackages:
//
//	source     Files (directory walk), Rows (SQL query)
//	transform  Documents (text extraction), Script (JavaScript records)
//	sink       JSONL (file), Postgres (row insert), Webhook (HTTP POST)
//
// Every stage exposes its logic as plain methods and adapts it to the
// pipeline through hook methods, so it can be tested without a coordinator.
package stages
