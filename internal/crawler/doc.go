// Package crawler holds the domain types and collaborator interfaces shared by
// the directory crawler: page tasks, extracted records, run metadata, the
// fetch error taxonomy, and the retry policy used at the fetch boundary.
package crawler
