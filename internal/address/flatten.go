package address

// Flatten turns the entries of one page into rows in depth-first pre-order.
//
// Every node takes the next id from seq before its children are visited.
// pageOffset is the offset of the page; it advances by one for each
// top-level node. query_child_num is 0 on a top-level row and counts the
// rows below it from 1, so children share the offset that follows their
// parent without colliding with the next top-level row.
func Flatten(nodes []Node, key string, pageOffset int, seq *IDSequence) []Record {
	var out []Record
	offset := pageOffset
	for _, node := range nodes {
		rows := flattenNode(node, nil, seq)
		childNum := 0
		for i := range rows {
			if rows[i].ParentID == nil {
				childNum = 0
			} else {
				childNum++
			}
			rows[i].QueryKey = key
			rows[i].QueryOffset = offset
			rows[i].QueryChildNum = childNum
			if rows[i].ParentID == nil {
				offset++
			}
		}
		out = append(out, rows...)
	}
	return out
}

func flattenNode(node Node, parentID *int64, seq *IDSequence) []Record {
	rec := Record{ID: seq.Next(), ParentID: parentID}
	for i, v := range node.Fields {
		if v == "" {
			continue
		}
		value := v
		rec.Fields[i] = &value
	}
	rows := []Record{rec}
	id := rec.ID
	for _, child := range node.Children {
		rows = append(rows, flattenNode(child, &id, seq)...)
	}
	return rows
}
