package resources

// IterableList is one page of a paginated listing. NextBookmark resumes the
// listing where this page stopped; empty means the listing is exhausted.
type IterableList[E any] struct {
	NextBookmark string `json:"next"`
	List         []E    `json:"list"`
}

func (itr IterableList[E]) GetList() []E {
	return itr.List
}

func (itr IterableList[E]) GetNextBookmark() string {
	return itr.NextBookmark
}
