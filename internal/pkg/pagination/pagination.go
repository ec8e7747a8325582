package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/distill/internal/pkg/response"
	"gorm.io/gorm"
)

const (
	DefaultPage = 1
	DefaultSize = 10
	MaxSize     = 50
)

// Query holds parsed pagination parameters.
type Query struct {
	Page int
	Size int
}

// FromContext extracts and validates pagination params from the request.
func FromContext(c *gin.Context) Query {
	return Normalize(parseIntOr(c.Query("page"), DefaultPage), parseIntOr(c.Query("size"), DefaultSize))
}

// Normalize clamps page and size into the accepted range.
func Normalize(page, size int) Query {
	if page < 1 {
		page = DefaultPage
	}
	if size < 1 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	return Query{Page: page, Size: size}
}

// Offset is the number of rows skipped before the page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.Size
}

// Meta builds the response metadata for a page of a total-row result.
func (q Query) Meta(total int64) response.Pagination {
	totalPage := int((total + int64(q.Size) - 1) / int64(q.Size))
	return response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	}
}

// Paginate applies limit/offset to a GORM query and returns the pagination metadata.
func Paginate[T any](db *gorm.DB, q Query, dest *[]T) (response.Pagination, error) {
	var total int64
	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return response.Pagination{}, err
	}
	if err := db.Offset(q.Offset()).Limit(q.Size).Find(dest).Error; err != nil {
		return response.Pagination{}, err
	}
	return q.Meta(total), nil
}

func parseIntOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
