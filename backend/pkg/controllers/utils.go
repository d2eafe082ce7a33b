package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ocelotpki/ocelot/pkg/resources"
)

// FilterQuery parses the list query parameters (pagination, sorting and
// field filters) of an HTTP request. Filters use the field[op]value form,
// for example status[eq]ACTIVE. Unknown fields and operands are ignored.
func FilterQuery(r *http.Request, filterFieldMap map[string]resources.FilterFieldType) *resources.QueryParameters {
	queryParams := resources.QueryParameters{
		NextBookmark: "",
		Filters:      []resources.FilterOption{},
		PageSize:     25,
	}

	if len(r.URL.RawQuery) == 0 {
		return &queryParams
	}

	values := r.URL.Query()
	for k, v := range values {
		switch k {
		case "sort_by":
			sortField := strings.Trim(v[len(v)-1], " ")
			if _, exists := filterFieldMap[sortField]; exists {
				queryParams.Sort.SortField = sortField
			}

		case "sort_mode":
			queryParams.Sort.SortMode = resources.ParseSortMode(v[len(v)-1])

		case "page_size":
			pageS, err := strconv.Atoi(v[len(v)-1])
			if err == nil {
				queryParams.PageSize = pageS
			}

		case "bookmark":
			queryParams.NextBookmark = v[len(v)-1]

		case "filter":
			for _, value := range v {
				bs := strings.Index(value, "[")
				es := strings.Index(value, "]")
				if bs == -1 || es == -1 || bs > es {
					continue
				}

				field, rest, _ := strings.Cut(value, "[")
				operand, arg, _ := strings.Cut(rest, "]")
				operand = strings.ToLower(operand)

				fieldType, exists := filterFieldMap[field]
				if !exists {
					continue
				}

				var filterOperand resources.FilterOperation
				switch fieldType {
				case resources.StringFilterFieldType:
					switch operand {
					case "eq", "equal":
						filterOperand = resources.StringEqual
					case "eq_ic", "equal_ignorecase":
						filterOperand = resources.StringEqualIgnoreCase
					case "ct", "contains":
						filterOperand = resources.StringContains
					case "ct_ic", "contains_ignorecase":
						filterOperand = resources.StringContainsIgnoreCase
					}

				case resources.DateFilterFieldType:
					switch operand {
					case "bf", "before":
						filterOperand = resources.DateBefore
					case "eq", "equal":
						filterOperand = resources.DateEqual
					case "af", "after":
						filterOperand = resources.DateAfter
					}

				case resources.NumberFilterFieldType:
					switch operand {
					case "eq", "equal":
						filterOperand = resources.NumberEqual
					case "lt", "lessthan":
						filterOperand = resources.NumberLessThan
					case "gt", "greaterthan":
						filterOperand = resources.NumberGreaterThan
					}

				case resources.EnumFilterFieldType:
					switch operand {
					case "eq", "equal":
						filterOperand = resources.EnumEqual
					case "ne", "notequal":
						filterOperand = resources.EnumNotEqual
					}
				}

				if filterOperand == resources.UnspecifiedFilter {
					continue
				}

				queryParams.Filters = append(queryParams.Filters, resources.FilterOption{
					Field:           field,
					FilterOperation: filterOperand,
					Value:           arg,
				})
			}
		}
	}

	return &queryParams
}
