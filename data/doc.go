// Package data exports participant message ledgers as Apache Arrow records.
package data
