package documents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	created := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	mt.Run("get by id decodes embedded attachments", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "doc-1"},
			{Key: "title", Value: "Q1 Report"},
			{Key: "full_text", Value: "quarterly report results"},
			{Key: "created_at", Value: created},
			{Key: "updated_at", Value: created},
			{Key: "attachments", Value: bson.A{
				bson.D{{Key: "id", Value: "att-1"}, {Key: "blob_key", Value: "documents/1-a.pdf"}, {Key: "mime_type", Value: "application/pdf"}},
				bson.D{{Key: "id", Value: "att-2"}, {Key: "blob_key", Value: "documents/2-b.png"}, {Key: "mime_type", Value: "image/png"}},
			}},
		}))

		doc, err := repo.GetByID(context.Background(), "doc-1")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if doc.Title != "Q1 Report" || len(doc.Attachments) != 2 {
			t.Fatalf("unexpected document %+v", doc)
		}
		if doc.Attachments[0].BlobKey != "documents/1-a.pdf" || doc.Attachments[1].ID != "att-2" {
			t.Fatalf("attachments out of order: %+v", doc.Attachments)
		}
	})

	mt.Run("get by id not found", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	mt.Run("append attachments", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		err := repo.AppendAttachments(context.Background(), "doc-1", []Attachment{{ID: "att-1", BlobKey: "documents/1-a.pdf"}})
		if err != nil {
			t.Fatalf("AppendAttachments: %v", err)
		}
	})

	mt.Run("append attachments to missing document", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		err := repo.AppendAttachments(context.Background(), "doc-x", []Attachment{{ID: "att-1", BlobKey: "k"}})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	mt.Run("append attachments duplicate blob key", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error",
		}))

		err := repo.AppendAttachments(context.Background(), "doc-1", []Attachment{{ID: "att-1", BlobKey: "documents/1-a.pdf"}})
		if !errors.Is(err, ErrDuplicateBlobKey) {
			t.Fatalf("expected ErrDuplicateBlobKey, got %v", err)
		}
	})

	mt.Run("remove missing attachment", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		if err := repo.RemoveAttachment(context.Background(), "doc-1", "att-9"); !errors.Is(err, ErrAttachmentNotFound) {
			t.Fatalf("expected ErrAttachmentNotFound, got %v", err)
		}
	})

	mt.Run("search candidates", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "doc-1"}, {Key: "title", Value: "Quarterly"}, {Key: "created_at", Value: created}},
			bson.D{{Key: "_id", Value: "doc-2"}, {Key: "title", Value: "Notes"}, {Key: "full_text", Value: "quarterly numbers"}},
		))

		docs, err := repo.SearchCandidates(context.Background(), []string{"quarterly"}, 10)
		if err != nil {
			t.Fatalf("SearchCandidates: %v", err)
		}
		if len(docs) != 2 || docs[1].FullText != "quarterly numbers" {
			t.Fatalf("unexpected candidates %+v", docs)
		}
	})
}

func TestAttachmentTextsPipeline(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	pipeline := attachmentTextsPipeline(map[string]string{"att-2": "annex", "att-1": "$price is 10", "": "ignored"}, now)
	if len(pipeline) != 2 {
		t.Fatalf("expected fill then rebuild stages, got %d", len(pipeline))
	}

	raw, err := bson.Marshal(pipeline[0])
	if err != nil {
		t.Fatalf("marshal stage: %v", err)
	}
	branches, err := bson.Raw(raw).LookupErr("$set", "texts", "$map", "in", "$switch", "branches")
	if err != nil {
		t.Fatalf("lookup branches: %v", err)
	}
	values, err := branches.Array().Values()
	if err != nil || len(values) != 2 {
		t.Fatalf("expected one branch per attachment, got %v (%v)", values, err)
	}
	first := values[0].Document()
	if id := first.Lookup("case", "$eq").Array().Index(1).Value().StringValue(); id != "att-1" {
		t.Fatalf("branches not sorted by id, first is %q", id)
	}
	if text := first.Lookup("then", "text", "$literal").StringValue(); text != "$price is 10" {
		t.Fatalf("expected literal text, got %q", text)
	}

	raw, err = bson.Marshal(pipeline[1])
	if err != nil {
		t.Fatalf("marshal stage: %v", err)
	}
	if input := bson.Raw(raw).Lookup("$set", "full_text", "$reduce", "input").StringValue(); input != "$texts" {
		t.Fatalf("full text must be rebuilt from texts, got %q", input)
	}

	if attachmentTextsPipeline(map[string]string{"": "x"}, now) != nil {
		t.Fatalf("expected no pipeline without attachment ids")
	}
}

func TestSearchPipelineSortsBeforeLimit(t *testing.T) {
	pipeline := searchPipeline([]string{"quarterly", "report"}, 200)

	stages := make([]string, 0, len(pipeline))
	for _, stage := range pipeline {
		stages = append(stages, stage[0].Key)
	}
	want := []string{"$match", "$addFields", "$sort", "$limit", "$project"}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected stages %v", stages)
	}

	sortKeys := make([]string, 0)
	for _, e := range pipeline[2][0].Value.(bson.D) {
		sortKeys = append(sortKeys, e.Key)
	}
	if strings.Join(sortKeys, ",") != "exact_title,title_hits,text_hits,updated_at,_id" {
		t.Fatalf("unexpected sort keys %v", sortKeys)
	}

	raw, err := bson.Marshal(pipeline[1])
	if err != nil {
		t.Fatalf("marshal stage: %v", err)
	}
	hits, err := bson.Raw(raw).LookupErr("$addFields", "title_hits", "$add")
	if err != nil {
		t.Fatalf("lookup title hits: %v", err)
	}
	if values, _ := hits.Array().Values(); len(values) != 2 {
		t.Fatalf("expected one title hit per term, got %d", len(values))
	}
	if phrase := bson.Raw(raw).Lookup("$addFields", "exact_title", "$eq").Array().Index(1).Value().StringValue(); phrase != "quarterly report" {
		t.Fatalf("unexpected title phrase %q", phrase)
	}
}

func TestSearchFilterQuotesTerms(t *testing.T) {
	filter := searchFilter([]string{"a.b", "c"})
	clauses, ok := filter["$or"].(bson.A)
	if !ok || len(clauses) != 4 {
		t.Fatalf("unexpected filter %v", filter)
	}
	first := clauses[0].(bson.M)["title"].(bson.M)
	if first["$regex"] != `a\.b` || first["$options"] != "i" {
		t.Fatalf("unexpected regex clause %v", first)
	}
}
