// Package textutil provides the text normalization shared by the entity
// matcher and the asset downloader.
//
// FoldName reduces a place name to a comparison form: Unicode decomposed,
// combining marks removed, case folded, and whitespace collapsed, so that
// "Begraafplaats Sint-Barbara" and "begraafplaats sint-bárbara" compare equal.
// SanitizeToken turns a slug or name into a filesystem-safe file name stem.
package textutil
