package store

// MigrateURL exposes migrateURL to the external test package.
var MigrateURL = migrateURL
