package preview

import (
	"fmt"
	"strings"

	"github.com/splax/sitesmith/internal/domain"
)

// gateScript blocks rendering until the preview token matches. The token
// arrives as a ?token= query parameter (or legacy #token= fragment) and is
// persisted so later visits without the parameter still pass. Injected into
// the head so it runs before any content paints.
const gateScript = `<script>
(function () {
  var expected = %q;
  var stored = null;
  try { stored = window.localStorage.getItem("__preview_token"); } catch (e) {}
  var supplied = null;
  try { supplied = new URLSearchParams(window.location.search).get("token"); } catch (e) {}
  if (!supplied && window.location.hash.indexOf("#token=") === 0) {
    supplied = window.location.hash.slice(7);
  }
  if (supplied) {
    try { window.localStorage.setItem("__preview_token", supplied); } catch (e) {}
    stored = supplied;
  }
  if (stored !== expected) {
    document.documentElement.innerHTML =
      "<body style='font-family:sans-serif;padding:4rem;text-align:center'>" +
      "<h1>Preview locked</h1><p>This preview requires an access link.</p></body>";
    throw new Error("preview token missing");
  }
})();
</script>`

// bannerScript marks the deployment as a preview. It polls the public site
// status endpoint and renders the publish state with a link back to the
// editor; on any fetch failure the banner stays at "not published".
const bannerScript = `<script>
window.addEventListener("DOMContentLoaded", function () {
  var statusURL = %q;
  var editorURL = %q;
  var banner = document.createElement("div");
  banner.style.cssText = "position:fixed;top:0;left:0;right:0;z-index:2147483647;" +
    "background:#1f2937;color:#fff;font:14px/2.4 sans-serif;text-align:center";
  var render = function (label) {
    banner.textContent = "";
    banner.appendChild(document.createTextNode("Preview build — " + label + " · "));
    var link = document.createElement("a");
    link.href = editorURL;
    link.textContent = "Open editor";
    link.style.color = "#93c5fd";
    banner.appendChild(link);
  };
  render("not published");
  document.body.appendChild(banner);
  document.body.style.paddingTop = "2.4em";
  fetch(statusURL).then(function (res) { return res.json(); }).then(function (status) {
    if (status.state === "published") {
      render("published");
    } else if (status.state === "update_available") {
      render("update available");
    }
  }).catch(function () {});
});
</script>`

// InjectPreviewScripts adds the gate and banner scripts to every HTML
// entrypoint of the tree. Non-HTML files pass through untouched.
func InjectPreviewScripts(files []domain.GeneratedFile, token, statusURL, editorURL string) []domain.GeneratedFile {
	gated := make([]domain.GeneratedFile, len(files))
	copy(gated, files)
	for i, file := range gated {
		if !isHTMLEntrypoint(file.Path) {
			continue
		}
		gated[i].Content = injectHTML(file.Content, token, statusURL, editorURL)
	}
	return gated
}

func isHTMLEntrypoint(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm")
}

// injectHTML places the gate at the start of head and the banner at the end
// of body, tolerating documents missing either tag.
func injectHTML(content, token, statusURL, editorURL string) string {
	gate := fmt.Sprintf(gateScript, token)
	if idx := indexTagEnd(content, "<head"); idx >= 0 {
		content = content[:idx] + gate + content[idx:]
	} else {
		content = gate + content
	}
	banner := fmt.Sprintf(bannerScript, statusURL, editorURL)
	if idx := strings.LastIndex(strings.ToLower(content), "</body>"); idx >= 0 {
		content = content[:idx] + banner + content[idx:]
	} else {
		content += banner
	}
	return content
}

// indexTagEnd returns the offset just past the closing '>' of the first
// occurrence of the named opening tag, or -1.
func indexTagEnd(content, tag string) int {
	idx := strings.Index(strings.ToLower(content), tag)
	if idx < 0 {
		return -1
	}
	end := strings.Index(content[idx:], ">")
	if end < 0 {
		return -1
	}
	return idx + end + 1
}
