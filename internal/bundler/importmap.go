package bundler

// ImportMap maps bare specifiers to the URLs the browser's module loader
// should fetch them from.
type ImportMap map[string]string

// mergeImportMap computes the next cumulative import map from the previous
// one and the delta discovered by the newest build:
//   - entries whose URL was derived from the default CDN template and whose
//     package the build no longer imports are pruned,
//   - newly discovered bare specifiers are added,
//   - entries the user overrode (URL differs from the template-derived one)
//     are preserved verbatim, even if transiently unused.
func mergeImportMap(prev ImportMap, delta ImportMap, imported map[string]bool, derive func(string) string) ImportMap {
	next := make(ImportMap, len(prev)+len(delta))
	for name, url := range prev {
		if url != derive(name) || imported[name] {
			next[name] = url
		}
	}
	for name, url := range delta {
		if _, ok := next[name]; !ok {
			next[name] = url
		}
	}
	return next
}

// clone returns a copy safe to hand across the worker boundary.
func (m ImportMap) clone() ImportMap {
	out := make(ImportMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
