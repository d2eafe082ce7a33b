package resources

type SortMode string

const (
	SortModeAsc  SortMode = "asc"
	SortModeDesc SortMode = "desc"
)

func ParseSortMode(t string) SortMode {
	switch t {
	case "asc":
		return SortModeAsc
	case "desc":
		return SortModeDesc
	}
	return SortModeAsc
}

type SortOptions struct {
	SortMode  SortMode
	SortField string
}

type FilterOperation int

const (
	UnspecifiedFilter FilterOperation = iota

	StringEqual
	StringEqualIgnoreCase
	StringContains
	StringContainsIgnoreCase

	DateEqual
	DateBefore
	DateAfter

	NumberEqual
	NumberLessThan
	NumberGreaterThan

	EnumEqual
	EnumNotEqual
)

type FilterFieldType int

const (
	StringFilterFieldType FilterFieldType = iota
	DateFilterFieldType
	NumberFilterFieldType
	EnumFilterFieldType
)

type FilterOption struct {
	Field           string
	FilterOperation FilterOperation
	Value           string
}

type QueryParameters struct {
	NextBookmark string
	Sort         SortOptions
	PageSize     int
	Filters      []FilterOption
}
