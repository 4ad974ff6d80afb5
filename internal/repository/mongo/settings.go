package mongorepo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"torrentstream/qbtcontrol/internal/domain"
)

const (
	settingsCollection = "settings"
	connectionDocID    = "connection"
)

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

type SettingsRepository struct {
	col *mongo.Collection
}

func NewSettingsRepository(db *mongo.Database) *SettingsRepository {
	return &SettingsRepository{col: db.Collection(settingsCollection)}
}

// Load returns the stored settings; found is false if the document does not
// exist.
func (r *SettingsRepository) Load(ctx context.Context) (domain.ConnectionSettings, bool, error) {
	var doc struct {
		domain.ConnectionSettings `bson:",inline"`
	}
	err := r.col.FindOne(ctx, bson.M{"_id": connectionDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ConnectionSettings{}, false, nil
	}
	if err != nil {
		return domain.ConnectionSettings{}, false, err
	}
	return doc.ConnectionSettings, true, nil
}

func (r *SettingsRepository) Save(ctx context.Context, s domain.ConnectionSettings) error {
	_, err := r.col.UpdateOne(
		ctx,
		bson.M{"_id": connectionDocID},
		bson.M{"$set": bson.M{
			"host":      s.Host,
			"username":  s.Username,
			"password":  s.Password,
			"updatedAt": s.UpdatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	return err
}
