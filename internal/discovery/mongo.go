package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoConn is the Connector for document-store agents. Discovery samples
// one document per collection and infers field names and
// value types from it; there is no SQL dialect to validate or execute
// against a document store, so Execute/Explain return a classified "not
// supported" error rather than silently no-op-ing.
type mongoConn struct {
	client *mongo.Client
	dbName string
}

// OpenMongo opens a short-lived connection to an agent's MongoDB database.
// The database name is taken from the connection string's path component.
func OpenMongo(ctx context.Context, dbURL string) (Connector, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(dbURL))
	if err != nil {
		return nil, fmt.Errorf("discovery: connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("discovery: ping mongo: %w", err)
	}

	dbName := dbNameFromURI(dbURL)
	if dbName == "" {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("discovery: mongo db URL has no database path component")
	}
	return &mongoConn{client: client, dbName: dbName}, nil
}

func dbNameFromURI(uri string) string {
	withoutScheme := strings.TrimPrefix(strings.TrimPrefix(uri, "mongodb+srv://"), "mongodb://")
	idx := strings.Index(withoutScheme, "/")
	if idx < 0 {
		return ""
	}
	rest := withoutScheme[idx+1:]
	if q := strings.IndexAny(rest, "?"); q >= 0 {
		rest = rest[:q]
	}
	return rest
}

func (c *mongoConn) Dialect() string { return "mongo" }

func (c *mongoConn) Close() error { return c.client.Disconnect(context.Background()) }

// DiscoverColumns samples one document per collection and flattens its
// fields (recursing into every nested document, "parent.child" dotted
// names) into the flat Column contract every variant shares. Arrays get a
// synthetic "[]" suffix on data_type. Sampling an empty collection yields zero columns, not an
// error.
func (c *mongoConn) DiscoverColumns(ctx context.Context) ([]Column, error) {
	db := c.client.Database(c.dbName)
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("discovery: mongo list collections: %w", err)
	}

	var out []Column
	for _, coll := range names {
		var doc bson.M
		err := db.Collection(coll).FindOne(ctx, bson.D{}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("discovery: mongo sample %s: %w", coll, err)
		}
		out = append(out, flattenDocument(coll, "", doc)...)
	}
	return out, nil
}

func flattenDocument(collection, prefix string, doc bson.M) []Column {
	var out []Column
	for k, v := range doc {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch val := v.(type) {
		case bson.M:
			out = append(out, flattenDocument(collection, name, val)...)
		case bson.A:
			dt := "array<mixed>[]"
			if len(val) > 0 {
				dt = mongoTypeName(val[0]) + "[]"
			}
			out = append(out, Column{SchemaName: "", TableName: collection, ColumnName: name, DataType: dt, IsNullable: true})
		default:
			out = append(out, Column{SchemaName: "", TableName: collection, ColumnName: name, DataType: mongoTypeName(v), IsNullable: v == nil})
		}
	}
	return out
}

func mongoTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int32, int64, int:
		return "int"
	case float64:
		return "double"
	case string:
		return "string"
	case bson.DateTime:
		return "date"
	case bson.ObjectID:
		return "objectid"
	case bson.M:
		return "object"
	case bson.A:
		return "array"
	default:
		return "mixed"
	}
}

func (c *mongoConn) SampleRows(ctx context.Context, _, table string, limit int) ([]map[string]any, error) {
	cur, err := c.client.Database(c.dbName).Collection(table).Find(ctx, bson.D{}, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("discovery: mongo sample rows: %w", err)
	}
	defer cur.Close(ctx)

	var out []map[string]any
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("discovery: mongo decode sample row: %w", err)
		}
		out = append(out, map[string]any(doc))
	}
	return out, cur.Err()
}

var errMongoExecuteUnsupported = &ExecError{Class: ExecOther, Err: errors.New("discovery: mongo is a document store, there is no SQL dialect to execute")}

func (c *mongoConn) Execute(context.Context, string, time.Duration, int) (*ExecResult, error) {
	return nil, errMongoExecuteUnsupported
}

func (c *mongoConn) Explain(context.Context, string) error {
	return errMongoExecuteUnsupported
}
