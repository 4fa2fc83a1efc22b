package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserStore answers whether an account exists.
type UserStore struct {
	coll *mongo.Collection
}

func NewUserStore(db *mongo.Database, collectionName string) *UserStore {
	if collectionName == "" {
		collectionName = "users"
	}
	return &UserStore{
		coll: db.Collection(collectionName),
	}
}

// UserExists reports whether a user with the given id is stored. Ids are
// matched both as ObjectIDs and as plain strings.
func (s *UserStore) UserExists(ctx context.Context, id string) (bool, error) {
	count, err := s.coll.CountDocuments(ctx, userIDFilter(id), options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func userIDFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}
