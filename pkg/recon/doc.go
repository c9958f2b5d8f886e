// Package recon reads and writes the Recon text notation of structural
// values.
//
// Recon is a compact object notation where records are written with braces,
// attributes with a leading `@` and slots with a colon:
//
//	@sync(node:"/unit/1",lane:info)@Person{name:Bob,age:42}
//
// Strings carry no escape sequences, a `"` can not be represented inside one.
package recon
