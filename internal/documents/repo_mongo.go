package documents

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoAttachment struct {
	ID          string    `bson:"id"`
	OwnerUserID string    `bson:"owner_user_id"`
	BlobKey     string    `bson:"blob_key"`
	Title       string    `bson:"title"`
	MimeType    string    `bson:"mime_type"`
	SizeBytes   int64     `bson:"size_bytes"`
	CreatedAt   time.Time `bson:"created_at"`
}

// mongoText mirrors extractedText. Entries are pushed with their attachment
// and are not pulled on removal.
type mongoText struct {
	AttachmentID string `bson:"attachment_id"`
	Text         string `bson:"text"`
}

type mongoDocument struct {
	ID          string            `bson:"_id"`
	Title       string            `bson:"title"`
	Attachments []mongoAttachment `bson:"attachments"`
	Texts       []mongoText       `bson:"texts"`
	FullText    string            `bson:"full_text"`
	CreatedAt   time.Time         `bson:"created_at"`
	UpdatedAt   time.Time         `bson:"updated_at"`
}

// MongoRepo implements Repo on a MongoDB collection with attachments
// embedded in the document.
type MongoRepo struct {
	Coll *mongo.Collection
	now  func() time.Time
}

// NewMongoRepo constructs a MongoRepo.
func NewMongoRepo(coll *mongo.Collection) *MongoRepo {
	return &MongoRepo{Coll: coll}
}

func (r *MongoRepo) timestamp() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now().UTC()
}

// EnsureIndexes creates the unique blob key index and the text index.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.Coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "attachments.blob_key", Value: 1}},
			Options: options.Index().
				SetName("attachments_blob_key_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"attachments.blob_key": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "title", Value: "text"}, {Key: "full_text", Value: "text"}},
			Options: options.Index().SetName("documents_text"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("documents_created_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo ensure indexes: %w", err)
	}
	return nil
}

// Create inserts a new document.
func (r *MongoRepo) Create(ctx context.Context, doc Document) error {
	_, err := r.Coll.InsertOne(ctx, toMongo(doc))
	return err
}

// GetByID returns the document with its embedded attachments.
func (r *MongoRepo) GetByID(ctx context.Context, id string) (Document, error) {
	var md mongoDocument
	if err := r.Coll.FindOne(ctx, bson.M{"_id": id}).Decode(&md); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return fromMongo(md), nil
}

// List returns documents newest first.
func (r *MongoRepo) List(ctx context.Context, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"attachments": 0, "texts": 0, "full_text": 0})

	docs, err := r.findMany(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Attachments = nil
	}
	return docs, nil
}

// AppendAttachments pushes the batch and its empty text entries with one
// atomic $push.
func (r *MongoRepo) AppendAttachments(ctx context.Context, documentID string, atts []Attachment) error {
	embedded := make([]mongoAttachment, 0, len(atts))
	texts := make([]mongoText, 0, len(atts))
	for _, a := range atts {
		embedded = append(embedded, toMongoAttachment(a))
		texts = append(texts, mongoText{AttachmentID: a.ID})
	}
	update := bson.M{
		"$push": bson.M{
			"attachments": bson.M{"$each": embedded},
			"texts":       bson.M{"$each": texts},
		},
		"$set": bson.M{"updated_at": r.timestamp()},
	}
	res, err := r.Coll.UpdateOne(ctx, bson.M{"_id": documentID}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateBlobKey, err)
		}
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAttachmentTexts fills the text entries and rebuilds full_text from them
// in a single update pipeline, so concurrent writers cannot interleave.
func (r *MongoRepo) SetAttachmentTexts(ctx context.Context, documentID string, texts map[string]string) error {
	if len(texts) == 0 {
		return nil
	}
	pipeline := attachmentTextsPipeline(texts, r.timestamp())
	if pipeline == nil {
		return nil
	}
	res, err := r.Coll.UpdateOne(ctx, bson.M{"_id": documentID}, pipeline)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func attachmentTextsPipeline(texts map[string]string, now time.Time) mongo.Pipeline {
	ids := make([]string, 0, len(texts))
	for id := range texts {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)

	branches := make(bson.A, 0, len(ids))
	for _, id := range ids {
		branches = append(branches, bson.D{
			{Key: "case", Value: bson.D{{Key: "$eq", Value: bson.A{"$$t.attachment_id", id}}}},
			{Key: "then", Value: bson.D{
				{Key: "attachment_id", Value: "$$t.attachment_id"},
				{Key: "text", Value: bson.D{{Key: "$literal", Value: texts[id]}}},
			}},
		})
	}
	filled := bson.D{{Key: "$map", Value: bson.D{
		{Key: "input", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$texts", bson.A{}}}}},
		{Key: "as", Value: "t"},
		{Key: "in", Value: bson.D{{Key: "$switch", Value: bson.D{
			{Key: "branches", Value: branches},
			{Key: "default", Value: "$$t"},
		}}}},
	}}}

	joined := bson.D{{Key: "$reduce", Value: bson.D{
		{Key: "input", Value: "$texts"},
		{Key: "initialValue", Value: ""},
		{Key: "in", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$eq", Value: bson.A{"$$this.text", ""}}},
			"$$value",
			bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$$value", ""}}},
				"$$this.text",
				bson.D{{Key: "$concat", Value: bson.A{"$$value", "\n\n", "$$this.text"}}},
			}}},
		}}}},
	}}}

	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "texts", Value: filled}}}},
		{{Key: "$set", Value: bson.D{
			{Key: "full_text", Value: joined},
			{Key: "updated_at", Value: now},
		}}},
	}
}

// RemoveAttachment pulls the attachment entry.
func (r *MongoRepo) RemoveAttachment(ctx context.Context, documentID, attachmentID string) error {
	res, err := r.Coll.UpdateOne(ctx,
		bson.M{"_id": documentID, "attachments.id": attachmentID},
		bson.M{
			"$pull": bson.M{"attachments": bson.M{"id": attachmentID}},
			"$set":  bson.M{"updated_at": r.timestamp()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrAttachmentNotFound
	}
	return nil
}

// FindByBlobKey locates the document embedding blobKey.
func (r *MongoRepo) FindByBlobKey(ctx context.Context, blobKey string) (Document, Attachment, error) {
	var md mongoDocument
	if err := r.Coll.FindOne(ctx, bson.M{"attachments.blob_key": blobKey}).Decode(&md); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Document{}, Attachment{}, ErrAttachmentNotFound
		}
		return Document{}, Attachment{}, err
	}
	doc := fromMongo(md)
	for _, a := range doc.Attachments {
		if a.BlobKey == blobKey {
			return doc, a, nil
		}
	}
	return Document{}, Attachment{}, ErrAttachmentNotFound
}

// SearchCandidates matches any term as a case-insensitive substring and
// orders the matches server-side the way sortCandidates does before limiting.
func (r *MongoRepo) SearchCandidates(ctx context.Context, terms []string, limit int) ([]Document, error) {
	if len(terms) == 0 {
		return []Document{}, nil
	}
	if limit <= 0 {
		limit = 200
	}
	cur, err := r.Coll.Aggregate(ctx, searchPipeline(terms, limit))
	if err != nil {
		return nil, err
	}
	return decodeAll(ctx, cur)
}

func searchPipeline(terms []string, limit int) mongo.Pipeline {
	titleHits := make(bson.A, 0, len(terms))
	textHits := make(bson.A, 0, len(terms))
	for _, term := range terms {
		pattern := regexp.QuoteMeta(term)
		titleHits = append(titleHits, regexHit("$title", pattern))
		textHits = append(textHits, regexHit(bson.D{{Key: "$ifNull", Value: bson.A{"$full_text", ""}}}, pattern))
	}
	exactTitle := bson.D{{Key: "$eq", Value: bson.A{
		bson.D{{Key: "$toLower", Value: bson.D{{Key: "$trim", Value: bson.D{{Key: "input", Value: "$title"}}}}}},
		titlePhrase(terms),
	}}}

	return mongo.Pipeline{
		{{Key: "$match", Value: searchFilter(terms)}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "exact_title", Value: exactTitle},
			{Key: "title_hits", Value: bson.D{{Key: "$add", Value: titleHits}}},
			{Key: "text_hits", Value: bson.D{{Key: "$add", Value: textHits}}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "exact_title", Value: -1},
			{Key: "title_hits", Value: -1},
			{Key: "text_hits", Value: -1},
			{Key: "updated_at", Value: -1},
			{Key: "_id", Value: 1},
		}}},
		{{Key: "$limit", Value: int64(limit)}},
		{{Key: "$project", Value: bson.D{
			{Key: "attachments", Value: 0},
			{Key: "texts", Value: 0},
			{Key: "exact_title", Value: 0},
			{Key: "title_hits", Value: 0},
			{Key: "text_hits", Value: 0},
		}}},
	}
}

func regexHit(input any, pattern string) bson.D {
	return bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$regexMatch", Value: bson.D{
			{Key: "input", Value: input},
			{Key: "regex", Value: pattern},
			{Key: "options", Value: "i"},
		}}},
		1,
		0,
	}}}
}

func searchFilter(terms []string) bson.M {
	clauses := make(bson.A, 0, len(terms)*2)
	for _, term := range terms {
		pattern := regexp.QuoteMeta(term)
		clauses = append(clauses,
			bson.M{"title": bson.M{"$regex": pattern, "$options": "i"}},
			bson.M{"full_text": bson.M{"$regex": pattern, "$options": "i"}},
		)
	}
	return bson.M{"$or": clauses}
}

func (r *MongoRepo) findMany(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Document, error) {
	cur, err := r.Coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll(ctx, cur)
}

func decodeAll(ctx context.Context, cur *mongo.Cursor) ([]Document, error) {
	defer cur.Close(ctx)

	docs := []Document{}
	for cur.Next(ctx) {
		var md mongoDocument
		if err := cur.Decode(&md); err != nil {
			return nil, err
		}
		docs = append(docs, fromMongo(md))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func toMongo(doc Document) mongoDocument {
	atts := make([]mongoAttachment, 0, len(doc.Attachments))
	texts := make([]mongoText, 0, len(doc.Attachments)+1)
	if doc.FullText != "" {
		texts = append(texts, mongoText{Text: doc.FullText})
	}
	for _, a := range doc.Attachments {
		atts = append(atts, toMongoAttachment(a))
		texts = append(texts, mongoText{AttachmentID: a.ID})
	}
	return mongoDocument{
		ID:          doc.ID,
		Title:       doc.Title,
		Attachments: atts,
		Texts:       texts,
		FullText:    doc.FullText,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func toMongoAttachment(a Attachment) mongoAttachment {
	return mongoAttachment{
		ID:          a.ID,
		OwnerUserID: a.OwnerUserID,
		BlobKey:     a.BlobKey,
		Title:       a.Title,
		MimeType:    a.MimeType,
		SizeBytes:   a.SizeBytes,
		CreatedAt:   a.CreatedAt,
	}
}

func fromMongo(md mongoDocument) Document {
	atts := make([]Attachment, 0, len(md.Attachments))
	for _, a := range md.Attachments {
		atts = append(atts, Attachment{
			ID:          a.ID,
			OwnerUserID: a.OwnerUserID,
			BlobKey:     a.BlobKey,
			Title:       a.Title,
			MimeType:    a.MimeType,
			SizeBytes:   a.SizeBytes,
			CreatedAt:   a.CreatedAt.UTC(),
		})
	}
	return Document{
		ID:          md.ID,
		Title:       md.Title,
		Attachments: atts,
		FullText:    md.FullText,
		CreatedAt:   md.CreatedAt.UTC(),
		UpdatedAt:   md.UpdatedAt.UTC(),
	}
}

var _ Repo = (*MongoRepo)(nil)
