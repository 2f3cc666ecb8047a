// Package bpath canonicalizes filesystem paths: resolving "." and ".."
// components against an absolute prefix without touching the filesystem
// itself (that happens later, when fs.Open walks the canonical path).
package bpath

import "ustr"

/// Canonicalize resolves "." and ".." components in an absolute path,
/// returning a clean absolute path with no trailing slash (except the root
/// path itself, "/").
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("bpath.Canonicalize requires an absolute path")
	}
	var stack []ustr.Ustr
	comp := ustr.MkUstr()
	flush := func() {
		if len(comp) == 0 || comp.Isdot() {
			comp = ustr.MkUstr()
			return
		}
		if comp.Isdotdot() {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		} else {
			stack = append(stack, comp)
		}
		comp = ustr.MkUstr()
	}
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			flush()
			continue
		}
		comp = append(comp, p[i])
	}
	flush()

	out := ustr.Ustr{'/'}
	for i, c := range stack {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, c...)
	}
	return out
}
