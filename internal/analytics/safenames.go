package analytics

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// SafeName maps a spreadsheet header to a deterministic identifier usable
// as a SQLite column name: lower-cased, runs of non-alphanumerics become
// a single underscore, edge underscores stripped, then prefixed col_.
func SafeName(header string) string {
	s := strings.ToLower(header)
	s = nonAlnumRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "column"
	}
	return "col_" + s
}

// SafeNameMap maps each original header to a unique safe name, resolving
// collisions by appending _2, _3, ... in input order.
func SafeNameMap(headers []string) map[string]string {
	out := make(map[string]string, len(headers))
	used := make(map[string]int, len(headers))
	for _, h := range headers {
		base := SafeName(h)
		name := base
		if n, ok := used[base]; ok {
			name = fmt.Sprintf("%s_%d", base, n+1)
			used[base] = n + 1
		} else {
			used[base] = 1
		}
		out[h] = name
	}
	return out
}

// TableName derives the physical table name for a (document, sheet) pair:
// doc_<first 24 safe chars of the document id>__<10 hex chars of
// SHA-1(sheet name)>.
func TableName(documentID, sheetName string) string {
	docPart := strings.ToLower(documentID)
	docPart = nonAlnumRun.ReplaceAllString(docPart, "_")
	if len(docPart) > 24 {
		docPart = docPart[:24]
	}
	sum := sha1.Sum([]byte(sheetName))
	return fmt.Sprintf("doc_%s__%s", docPart, hex.EncodeToString(sum[:])[:10])
}
