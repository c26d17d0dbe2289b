package address

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// topLevelPath selects the page's entries; nested entries are reached through
// their parents.
const topLevelPath = "//entries/address"

const nodeElement = "address"

// Parse extracts the top-level address entries of one result page.
func Parse(body []byte) ([]Node, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse result document: %w", err)
	}
	elems, err := xmlquery.QueryAll(doc, topLevelPath)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", topLevelPath, err)
	}
	nodes := make([]Node, 0, len(elems))
	for _, elem := range elems {
		nodes = append(nodes, parseNode(elem))
	}
	return nodes, nil
}

func parseNode(elem *xmlquery.Node) Node {
	var n Node
	for i, col := range Columns {
		if field := elem.SelectElement(col); field != nil {
			n.Fields[i] = strings.TrimSpace(field.InnerText())
		}
	}
	for _, child := range elem.SelectElements(nodeElement) {
		n.Children = append(n.Children, parseNode(child))
	}
	return n
}
