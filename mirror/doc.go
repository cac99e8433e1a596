// Package mirror maintains bare mirror clones of remote git repositories.
//
// A fresh mirror is cloned into a hidden temporary path, optimised and
// then published with an atomic rename, so a partially formed clone is
// never visible under its final name. An existing mirror is updated in
// place with an incremental fetch.
package mirror
