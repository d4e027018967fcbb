package handlers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	TotalCountHeader = "X-Total-Count"

	// rows fetched for a table or dashboard view unless the client asks
	// for fewer
	DefaultFetchLimit = 100
)

// Query carries the optional react-admin style list parameters: sort is a
// json ["column","ASC|DESC"] pair, filter a json object of equality matches,
// range a json [start,end] row window.
type Query struct {
	Sort   string `form:"sort"`
	Filter string `form:"filter"`
	Range  string `form:"range"`
}

func (q *Query) GetSort() (string, error) {
	var parts []string
	if err := json.Unmarshal([]byte(q.Sort), &parts); err != nil {
		return "", err
	}
	if len(parts) != 2 {
		return "", fmt.Errorf("too many parts")
	}
	direction := strings.ToUpper(parts[1])
	if direction != "ASC" && direction != "DESC" {
		return "", fmt.Errorf("invalid sort direction")
	}
	return parts[0] + " " + direction, nil
}

func (q *Query) GetRange() (int, int, error) {
	var parts []int
	if err := json.Unmarshal([]byte(q.Range), &parts); err != nil {
		return 0, 0, err
	}
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("too many parts")
	}
	start := parts[0]
	end := parts[1]
	pageSize := end - start + 1
	return pageSize, start, nil
}

func (q *Query) GetFilter() (map[string]interface{}, error) {
	var parts map[string]interface{}
	if err := json.Unmarshal([]byte(q.Filter), &parts); err != nil {
		return parts, err
	}
	return parts, nil
}

// FilterAndPaginate scopes a gorm query with the request's list parameters
// and sets the total-count header when a range is requested.
func FilterAndPaginate(model interface{}, c *gin.Context, defaultOrderBy string) func(db *gorm.DB) *gorm.DB {
	var query Query
	if err := c.BindQuery(&query); err != nil {
		return func(db *gorm.DB) *gorm.DB {
			db.Error = err
			return db
		}
	}
	return func(db *gorm.DB) *gorm.DB {

		if order, err := query.GetSort(); err == nil {
			db = db.Order(order)
		} else if defaultOrderBy != "" {
			db = db.Order(defaultOrderBy)
		}

		if filter, err := query.GetFilter(); err == nil {
			db = db.Where(filter)
		}

		if pageSize, offset, err := query.GetRange(); err == nil {
			var totalCount int64
			countDBSession := db.Session(&gorm.Session{Initialized: true})
			res := countDBSession.Model(model).Count(&totalCount)
			if res.Error != nil {
				return db
			}
			c.Header("Access-Control-Expose-Headers", TotalCountHeader)
			c.Header(TotalCountHeader, strconv.Itoa(int(totalCount)))
			db = db.Offset(offset).Limit(pageSize)
		}
		return db
	}
}

// fetchLimit reads the limit query parameter, bounded to the default.
func fetchLimit(c *gin.Context) int {
	limit := DefaultFetchLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= DefaultFetchLimit {
			limit = n
		}
	}
	return limit
}
