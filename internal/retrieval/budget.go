package retrieval

import (
	"quarry/internal/config"
	"quarry/internal/logging"
	"quarry/internal/types"
)

// minUsefulChars stops the document fill when the remaining budget is
// too small to carry meaningful context.
const minUsefulChars = 200

// AllocateBudget merges web and document contexts under the total
// character budget. Web contexts get a fixed fraction up front; budget
// they leave unused rolls over to documents. Whole web items either fit
// or are skipped. The last document item may be hard-truncated to fill
// the remaining budget exactly.
func AllocateBudget(webCtx, docCtx []types.SourceContext, cfg config.Settings) []types.SourceContext {
	totalBudget := cfg.TotalContextBudget
	webBudget := int(float64(totalBudget) * cfg.WebBudgetFrac)
	docBudget := totalBudget - webBudget

	result := make([]types.SourceContext, 0, len(webCtx)+len(docCtx))
	webUsed := 0

	for _, c := range webCtx {
		text := c.Text
		if cfg.WebMaxChars > 0 && len(text) > cfg.WebMaxChars {
			text = text[:cfg.WebMaxChars]
		}
		if webUsed+len(text) > webBudget {
			continue
		}
		c.Text = text
		result = append(result, c)
		webUsed += len(text)
	}

	docBudget += webBudget - webUsed

	docUsed := 0
	for _, c := range docCtx {
		remaining := docBudget - docUsed
		if remaining < minUsefulChars {
			break
		}

		text := c.Text
		if cfg.DocMaxChars > 0 && len(text) > cfg.DocMaxChars {
			text = text[:cfg.DocMaxChars]
		}

		if len(text) > remaining {
			text = text[:remaining]
		}
		c.Text = text
		result = append(result, c)
		docUsed += len(text)
	}

	logging.RetrievalDebug("budget: %d web chars + %d doc chars of %d total",
		webUsed, docUsed, totalBudget)
	return result
}
