package es

import (
	"context"
	"errors"
	log "log/slog"

	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types/enums/sortorder"
	"github.com/goccy/go-json"
)

const MaxSearchDepth = 400

type MessageRepo interface {
	IndexMessage(ctx context.Context, msg *MessageES) error
	SearchMessages(ctx context.Context, convIDs []uint64, keyword string, from, size int) ([]*MessageES, error)
}

type MessageRepoImpl struct {
}

func NewMessageRepo() MessageRepo {
	return &MessageRepoImpl{}
}

// IndexMessage 消息入索引，文档 ID 复用 MongoDB ObjectID
func (s *MessageRepoImpl) IndexMessage(ctx context.Context, msg *MessageES) error {
	_, err := Client.Index(MessageIndex).
		Id(msg.ID).
		Document(msg).
		Do(ctx)

	if err != nil {
		var e *types.ElasticsearchError
		if errors.As(err, &e) {
			if e.Status == ConflictCode {
				log.Warn("Message already indexed, skipping", "id", msg.ID)
				return nil
			}
		}
		return err
	}
	return nil
}

// SearchMessages 在用户可见的会话范围内做全文检索
func (s *MessageRepoImpl) SearchMessages(ctx context.Context, convIDs []uint64, keyword string, from, size int) ([]*MessageES, error) {
	if from >= MaxSearchDepth {
		return []*MessageES{}, nil
	}
	if len(convIDs) == 0 {
		return []*MessageES{}, nil
	}

	convTerms := make([]types.FieldValue, 0, len(convIDs))
	for _, id := range convIDs {
		convTerms = append(convTerms, id)
	}

	res, err := Client.Search().
		Index(MessageIndex).
		Query(&types.Query{
			Bool: &types.BoolQuery{
				Must: []types.Query{
					{
						Match: map[string]types.MatchQuery{
							"content": {Query: keyword},
						},
					},
				},
				Filter: []types.Query{
					{
						Terms: &types.TermsQuery{
							TermsQuery: map[string]types.TermsQueryField{
								"conversation_id": convTerms,
							},
						},
					},
				},
			},
		}).
		Sort(types.SortOptions{SortOptions: map[string]types.FieldSort{
			"created_at": {Order: &sortorder.Desc},
		}}).
		From(from).
		Size(size).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	messages := make([]*MessageES, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		var msg MessageES
		if err := json.Unmarshal(hit.Source_, &msg); err != nil {
			log.Warn("Failed to unmarshal message hit", "err", err)
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}
