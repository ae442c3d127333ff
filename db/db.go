package db

import (
	"context"
	"encoding/base64"
	"regexp"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirebaseApp initializes a Firebase app from base64 encoded service
// account credentials. The same app serves Firestore and Storage.
func NewFirebaseApp(ctx context.Context, encodedCreds, storageBucket string) (*firebase.App, error) {
	if encodedCreds == "" {
		return nil, errors.New("FIREBASE_CREDENTIALS environment variable not set")
	}
	creds, err := base64.StdEncoding.DecodeString(encodedCreds)
	if err != nil {
		return nil, errors.Wrap(err, "decode firebase credentials")
	}

	opt := option.WithCredentialsJSON(creds)
	app, err := firebase.NewApp(ctx, &firebase.Config{StorageBucket: storageBucket}, opt)
	if err != nil {
		return nil, errors.Wrap(err, "initialize firebase")
	}
	return app, nil
}

// firestoreAutoID matches ids generated by Firestore itself, which earlier
// deployments let the database assign.
var firestoreAutoID = regexp.MustCompile(`^[A-Za-z0-9]{20}$`)

// FirestoreCollection stores reports in one Firestore collection.
type FirestoreCollection struct {
	client *firestore.Client
	name   string
}

// NewFirestoreCollection gets the Firestore client from app.
func NewFirestoreCollection(ctx context.Context, app *firebase.App, name string) (*FirestoreCollection, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get firestore client")
	}
	return &FirestoreCollection{client: client, name: name}, nil
}

func (c *FirestoreCollection) Insert(ctx context.Context, doc map[string]interface{}) (string, error) {
	id := uuid.NewString()
	if _, err := c.client.Collection(c.name).Doc(id).Create(ctx, doc); err != nil {
		return "", err
	}
	return id, nil
}

// FindAll reads the collection unordered. A created_at ordered query would
// leave out documents that lack the field.
func (c *FirestoreCollection) FindAll(ctx context.Context) ([]Document, error) {
	iter := c.client.Collection(c.name).Documents(ctx)
	defer iter.Stop()

	snaps, err := iter.GetAll()
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return docs, nil
}

func (c *FirestoreCollection) SetField(ctx context.Context, id, field string, value interface{}) (Document, error) {
	ref := c.client.Collection(c.name).Doc(id)
	// Update fails with NotFound instead of creating the document
	if _, err := ref.Update(ctx, []firestore.Update{{Path: field, Value: value}}); err != nil {
		if status.Code(err) == codes.NotFound {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

// ValidID accepts the uuids this service assigns and Firestore auto ids.
func (c *FirestoreCollection) ValidID(id string) bool {
	return ValidFirestoreID(id)
}

func ValidFirestoreID(id string) bool {
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	return firestoreAutoID.MatchString(id)
}

func (c *FirestoreCollection) Close() error {
	return c.client.Close()
}
