package bundler

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// stylesheetKey derives the stable element id for a stylesheet specifier.
// Re-importing the same specifier updates the existing <style> element
// instead of appending a duplicate.
func stylesheetKey(specifier string) string {
	h := fnv.New32a()
	h.Write([]byte(specifier))
	return fmt.Sprintf("playground-style-%08x", h.Sum32())
}

// inlineStyleShim produces a side-effecting module that injects the given
// CSS text into the document, replacing any earlier injection for the same
// specifier.
func inlineStyleShim(specifier, css string) string {
	cssLit, _ := json.Marshal(css)
	return fmt.Sprintf(`const id = %q;
let el = document.getElementById(id);
if (!el) {
  el = document.createElement("style");
  el.id = id;
  document.head.appendChild(el);
}
el.textContent = %s;
export {};
`, stylesheetKey(specifier), cssLit)
}

// remoteStyleShim produces a side-effecting module that fetches an external
// stylesheet at runtime and injects it under the specifier's key. Network
// failures surface in the preview, not at build time.
func remoteStyleShim(specifier, url string) string {
	urlLit, _ := json.Marshal(url)
	return fmt.Sprintf(`const id = %q;
const res = await fetch(%s);
const css = await res.text();
let el = document.getElementById(id);
if (!el) {
  el = document.createElement("style");
  el.id = id;
  document.head.appendChild(el);
}
el.textContent = css;
export {};
`, stylesheetKey(specifier), urlLit)
}
