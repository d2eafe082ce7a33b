package gormstore

import (
	"context"
	"encoding"
	"encoding/base64"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/resources"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// TableQuery migrates the table of a model and returns a typed querier
// over it. Migration runs on the root session because a Table scoped
// migrator cannot resolve model associations. Each model declares its
// table through a TableName method.
func TableQuery[E any](db *gorm.DB, tableName string, primaryKeyColumn string, model E) (*gormDBQuerier[E], error) {
	schema.RegisterSerializer("text", TextSerializer{})

	if err := db.AutoMigrate(&model); err != nil {
		return nil, fmt.Errorf("could not migrate table %s: %w", tableName, err)
	}

	querier := newGormDBQuerier[E](db, tableName, primaryKeyColumn)
	return &querier, nil
}

// TextSerializer stores fields through their encoding.TextMarshaler
// representation.
type TextSerializer struct{}

func (TextSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) (err error) {
	fieldValue := reflect.New(field.FieldType).Interface()

	unmarshaler, ok := fieldValue.(encoding.TextUnmarshaler)
	if !ok {
		return fmt.Errorf("field type does not implement encoding.TextUnmarshaler")
	}

	var textData []byte
	switch v := dbValue.(type) {
	case string:
		textData = []byte(v)
	case []byte:
		textData = v
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported dbValue type: %T", dbValue)
	}

	if err := unmarshaler.UnmarshalText(textData); err != nil {
		return fmt.Errorf("failed to unmarshal text: %w", err)
	}

	field.ReflectValueOf(ctx, dst).Set(reflect.ValueOf(fieldValue).Elem())
	return nil
}

func (TextSerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if marshaler, ok := fieldValue.(encoding.TextMarshaler); ok {
		text, err := marshaler.MarshalText()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal text: %w", err)
		}
		return string(text), nil
	}

	return nil, fmt.Errorf("fieldValue does not implement encoding.TextMarshaler")
}

type gormDBQuerier[E any] struct {
	*gorm.DB
	tableName        string
	primaryKeyColumn string
}

func newGormDBQuerier[E any](db *gorm.DB, tableName string, primaryKeyColumn string) gormDBQuerier[E] {
	return gormDBQuerier[E]{
		DB:               db,
		tableName:        tableName,
		primaryKeyColumn: primaryKeyColumn,
	}
}

type gormWhereParams struct {
	query     interface{}
	extraArgs []any
}

func applyWhereParams(tx *gorm.DB, params []gormWhereParams) *gorm.DB {
	for _, param := range params {
		tx = tx.Where(param.query, param.extraArgs...)
	}

	return tx
}

func (db *gormDBQuerier[E]) Count(ctx context.Context, params []gormWhereParams) (int, error) {
	var count int64
	tx := db.Table(db.tableName).WithContext(ctx)

	tx = applyWhereParams(tx, params)

	tx.Count(&count)
	if err := tx.Error; err != nil {
		return -1, err
	}

	return int(count), nil
}

func (db *gormDBQuerier[E]) SelectAll(ctx context.Context, queryParams *resources.QueryParameters, params []gormWhereParams, exhaustiveRun bool, applyFunc func(elem E)) (string, error) {
	var elems []E
	tx := db.Table(db.tableName)

	offset := 0
	limit := 15
	nextBookmark := ""

	if queryParams != nil {
		if queryParams.NextBookmark == "" {
			if queryParams.PageSize > 0 {
				limit = queryParams.PageSize
			}

			sortMode := string(resources.SortModeAsc)
			if queryParams.Sort.SortMode != "" {
				sortMode = string(queryParams.Sort.SortMode)
			}

			nextBookmark = fmt.Sprintf("off:%d;lim:%d;", limit+offset, limit)

			if queryParams.Sort.SortField != "" {
				sortBy := strings.ReplaceAll(queryParams.Sort.SortField, ".", "_")
				nextBookmark = nextBookmark + fmt.Sprintf("sortM:%s;sortB:%s;", sortMode, sortBy)
				tx = tx.Order(sortBy + " " + sortMode)
			}

			for _, filter := range queryParams.Filters {
				tx = FilterOperandToWhereClause(filter, tx)
				nextBookmark = nextBookmark + fmt.Sprintf("filter:%s-%d-%s;",
					base64.StdEncoding.EncodeToString([]byte(filter.Field)),
					filter.FilterOperation,
					base64.StdEncoding.EncodeToString([]byte(filter.Value)))
			}
		} else {
			decodedBookmark, err := base64.RawURLEncoding.DecodeString(queryParams.NextBookmark)
			if err != nil {
				return "", fmt.Errorf("not a valid bookmark")
			}

			var sortMode, sortBy string
			for _, splitPart := range strings.Split(string(decodedBookmark), ";") {
				queryPart := strings.SplitN(splitPart, ":", 2)
				if len(queryPart) != 2 {
					continue
				}

				switch queryPart[0] {
				case "off":
					offset, err = strconv.Atoi(queryPart[1])
					if err != nil {
						return "", fmt.Errorf("not a valid bookmark")
					}
				case "lim":
					limit, err = strconv.Atoi(queryPart[1])
					if err != nil {
						return "", fmt.Errorf("not a valid bookmark")
					}
				case "sortM":
					sortMode = queryPart[1]
				case "sortB":
					sortBy = strings.ReplaceAll(queryPart[1], ".", "_")
				case "filter":
					filterSplit := strings.Split(queryPart[1], "-")
					if len(filterSplit) != 3 {
						continue
					}

					field, err := base64.StdEncoding.DecodeString(filterSplit[0])
					if err != nil {
						continue
					}

					value, err := base64.StdEncoding.DecodeString(filterSplit[2])
					if err != nil {
						continue
					}

					operand, err := strconv.Atoi(filterSplit[1])
					if err != nil {
						continue
					}

					filter := resources.FilterOption{
						Field:           string(field),
						FilterOperation: resources.FilterOperation(operand),
						Value:           string(value),
					}
					tx = FilterOperandToWhereClause(filter, tx)
					nextBookmark = nextBookmark + fmt.Sprintf("filter:%s-%d-%s;", filterSplit[0], operand, filterSplit[2])
				}
			}

			if sortMode != "" && sortBy != "" {
				tx = tx.Order(sortBy + " " + sortMode)
				nextBookmark = nextBookmark + fmt.Sprintf("sortM:%s;sortB:%s;", sortMode, sortBy)
			}

			nextBookmark = fmt.Sprintf("off:%d;lim:%d;", offset+limit, limit) + nextBookmark
		}
	}

	tx = applyWhereParams(tx, params)

	if exhaustiveRun {
		res := tx.WithContext(ctx).Preload(clause.Associations).FindInBatches(&elems, limit, func(tx *gorm.DB, batch int) error {
			for _, elem := range elems {
				applyFunc(elem)
			}

			return nil
		})
		if res.Error != nil {
			return "", res.Error
		}

		return "", nil
	}

	tx = tx.Offset(offset)
	tx = tx.Limit(limit + 1)
	rs := tx.WithContext(ctx).Preload(clause.Associations).Find(&elems)
	if rs.Error != nil {
		return "", rs.Error
	}

	hasMore := len(elems) > limit
	if hasMore {
		elems = elems[:limit]
	}

	for _, elem := range elems {
		applyFunc(elem)
	}

	if !hasMore {
		return "", nil
	}

	return base64.RawURLEncoding.EncodeToString([]byte(nextBookmark)), nil
}

// SelectExists fetches the first row matching queryID. If queryCol is nil
// the primary key column is used.
func (db *gormDBQuerier[E]) SelectExists(ctx context.Context, queryID string, queryCol *string) (bool, *E, error) {
	searchCol := db.primaryKeyColumn
	if queryCol != nil && *queryCol != "" {
		searchCol = *queryCol
	}

	return db.SelectExistsByQuery(ctx, fmt.Sprintf("%s = ?", searchCol), queryID)
}

func (db *gormDBQuerier[E]) SelectExistsByQuery(ctx context.Context, query interface{}, args ...interface{}) (bool, *E, error) {
	var elem E
	tx := db.Table(db.tableName).WithContext(ctx).Preload(clause.Associations).Where(query, args...).Limit(1).Find(&elem)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	if tx.RowsAffected == 0 {
		return false, nil, nil
	}

	return true, &elem, nil
}

func (db *gormDBQuerier[E]) Insert(ctx context.Context, elem *E) (*E, error) {
	tx := db.Table(db.tableName).WithContext(ctx).Create(elem)
	if err := tx.Error; err != nil {
		return nil, err
	}

	return elem, nil
}

func (db *gormDBQuerier[E]) Update(ctx context.Context, elem *E, elemID string) (*E, error) {
	tx := db.Session(&gorm.Session{FullSaveAssociations: true}).Table(db.tableName).WithContext(ctx).Where(fmt.Sprintf("%s = ?", db.primaryKeyColumn), elemID).Save(elem)
	if err := tx.Error; err != nil {
		return nil, err
	}

	if tx.RowsAffected != 1 {
		return nil, gorm.ErrRecordNotFound
	}

	return elem, nil
}

func (db *gormDBQuerier[E]) Delete(ctx context.Context, elemID string) error {
	var elem E
	tx := db.Table(db.tableName).WithContext(ctx).Where(fmt.Sprintf("%s = ?", db.primaryKeyColumn), elemID).Delete(&elem)
	if err := tx.Error; err != nil {
		return err
	}

	if tx.RowsAffected != 1 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// FilterOperandToWhereClause translates an API filter into a WHERE clause.
// Case insensitive matching goes through LOWER so it behaves the same on
// postgres and sqlite.
func FilterOperandToWhereClause(filter resources.FilterOption, tx *gorm.DB) *gorm.DB {
	if strings.Contains(filter.Field, ".") {
		filter.Field = strings.ReplaceAll(filter.Field, ".", "_")
	}

	switch filter.FilterOperation {
	case resources.StringEqual:
		return tx.Where(fmt.Sprintf("%s = ?", filter.Field), filter.Value)
	case resources.StringEqualIgnoreCase:
		return tx.Where(fmt.Sprintf("LOWER(%s) = LOWER(?)", filter.Field), filter.Value)
	case resources.StringContains:
		return tx.Where(fmt.Sprintf("%s LIKE ?", filter.Field), fmt.Sprintf("%%%s%%", filter.Value))
	case resources.StringContainsIgnoreCase:
		return tx.Where(fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", filter.Field), fmt.Sprintf("%%%s%%", filter.Value))
	case resources.DateEqual:
		return tx.Where(fmt.Sprintf("%s = ?", filter.Field), filter.Value)
	case resources.DateBefore:
		return tx.Where(fmt.Sprintf("%s < ?", filter.Field), filter.Value)
	case resources.DateAfter:
		return tx.Where(fmt.Sprintf("%s > ?", filter.Field), filter.Value)
	case resources.NumberEqual:
		return tx.Where(fmt.Sprintf("%s = ?", filter.Field), filter.Value)
	case resources.NumberLessThan:
		return tx.Where(fmt.Sprintf("%s < ?", filter.Field), filter.Value)
	case resources.NumberGreaterThan:
		return tx.Where(fmt.Sprintf("%s > ?", filter.Field), filter.Value)
	case resources.EnumEqual:
		return tx.Where(fmt.Sprintf("%s = ?", filter.Field), filter.Value)
	case resources.EnumNotEqual:
		return tx.Where(fmt.Sprintf("%s <> ?", filter.Field), filter.Value)
	default:
		return tx
	}
}

func NewGormLogger(logger *logrus.Entry) *GormLogger {
	return &GormLogger{
		logger: logger,
	}
}

// GormLogger adapts gorm's logging interface onto logrus.
type GormLogger struct {
	logger *logrus.Entry
}

func (l *GormLogger) LogMode(lvl gormlogger.LogLevel) gormlogger.Interface {
	newlogger := *l
	return &newlogger
}

func (l *GormLogger) Info(ctx context.Context, str string, rest ...interface{}) {
	le := helpers.ConfigureLogger(ctx, l.logger)
	le.Infof(str, rest...)
}

func (l *GormLogger) Warn(ctx context.Context, str string, rest ...interface{}) {
	le := helpers.ConfigureLogger(ctx, l.logger)
	le.Warnf(str, rest...)
}

func (l *GormLogger) Error(ctx context.Context, str string, rest ...interface{}) {
	le := helpers.ConfigureLogger(ctx, l.logger)
	le.Errorf(str, rest...)
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	le := helpers.ConfigureLogger(ctx, l.logger)
	sql, rows := fc()
	if err != nil {
		le.Errorf("Took: %s, Err:%s, SQL: %s, AffectedRows: %d", time.Since(begin).String(), err, sql, rows)
	} else {
		le.Tracef("Took: %s, SQL: %s, AffectedRows: %d", time.Since(begin).String(), sql, rows)
	}
}
