// Package address models the hierarchical address entries returned by the
// directory service and flattens them into id-linked rows.
package address

// Kind is the record type reported by the service for every entry.
type Kind string

// Record kinds.
const (
	KindSingle Kind = "single"
	KindParent Kind = "parent"
	KindChild  Kind = "child"
)

// Columns lists the payload columns in storage order. The set and order match
// the table consumed by the downstream export tools.
var Columns = [NumColumns]string{
	"name0",
	"firstname0",
	"nameextension0",
	"profession0",
	"nameconnection1",
	"name1",
	"firstname1",
	"nameextension1",
	"profession1",
	"nameconnection2",
	"name2",
	"firstname2",
	"nameextension2",
	"profession2",
	"extendedtext",
	"street",
	"housenumber",
	"zipcode",
	"city",
	"areacode",
	"phonenumber",
	"callrate",
	"commercial",
	"webadress",
	"advertising",
	"recordtype",
}

// NumColumns is the number of payload columns.
const NumColumns = 26

// KindColumn holds the record type.
const KindColumn = "recordtype"

var columnIndex = func() map[string]int {
	m := make(map[string]int, NumColumns)
	for i, c := range Columns {
		m[c] = i
	}
	return m
}()

// ColumnIndex returns the position of a payload column.
func ColumnIndex(name string) (int, bool) {
	i, ok := columnIndex[name]
	return i, ok
}

// Node is one <address> element with its nested entries.
// An empty field means the element was absent or blank.
type Node struct {
	Fields   [NumColumns]string
	Children []Node
}

// Field returns the text of a payload column.
func (n Node) Field(name string) string {
	i, ok := columnIndex[name]
	if !ok {
		return ""
	}
	return n.Fields[i]
}

// Kind returns the node's record type.
func (n Node) Kind() Kind {
	return Kind(n.Field(KindColumn))
}

// Record is a flattened, storable row.
type Record struct {
	ID            int64
	ParentID      *int64
	QueryKey      string
	QueryOffset   int
	QueryChildNum int
	// Fields is nil wherever the source had no value.
	Fields [NumColumns]*string
}

// Field returns the value of a payload column or nil.
func (r Record) Field(name string) *string {
	i, ok := columnIndex[name]
	if !ok {
		return nil
	}
	return r.Fields[i]
}

// Kind returns the record type or "" when absent.
func (r Record) Kind() Kind {
	if v := r.Field(KindColumn); v != nil {
		return Kind(*v)
	}
	return ""
}

// IsTopLevel reports whether the record has no parent.
func (r Record) IsTopLevel() bool {
	return r.ParentID == nil
}
