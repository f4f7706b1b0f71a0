// Package storage provides the optional broadcast audit log.
//
// One record is appended per completed broadcast (post-hoc reporting only;
// live status is always served from the in-memory registry, and nothing here
// is read on the poll path).
package storage
