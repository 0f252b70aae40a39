// Package mysql opens the shared MySQL connection pool and applies the
// embedded schema migrations used by the hotel catalog and task records.
package mysql
