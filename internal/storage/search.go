package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/signalhouse/msgvault/internal/types"
)

const (
	// searchPageSize is the fixed number of rows per search page.
	searchPageSize = 100

	// noMorePages is the cursor sentinel for an exhausted result set.
	noMorePages = -1
)

// SearchRequest describes one search page. NetworkUUID and Channel are
// optional scopes. LastTime/LastID carry the cursor returned by the
// previous page; a request with LastID <= 0 starts from the newest row.
type SearchRequest struct {
	Term        string
	NetworkUUID string
	Channel     string
	LastTime    int64
	LastID      int64
}

// SearchResult is one matched message together with where it was said
// and its row identity for cursoring.
type SearchResult struct {
	NetworkUUID string
	Channel     string
	RowID       int64
	Message     types.Message
}

// SearchResponse is one page of results in chronological order, plus
// the cursor for the next page. LastTime/LastID are -1 when the page
// was empty and there is nothing further to fetch.
type SearchResponse struct {
	Term        string
	NetworkUUID string
	Channel     string
	LastTime    int64
	LastID      int64
	Results     []SearchResult
}

// likeEscaper prefixes the LIKE pattern metacharacters (and the escape
// character itself) so user-supplied search text only ever matches
// literally. The backslash must be replaced first.
var likeEscaper = strings.NewReplacer(
	`\`, `\\`,
	`%`, `\%`,
	`_`, `\_`,
)

// Search returns one page of messages whose text contains the search
// term, newest page first, each page delivered oldest-first. Pages are
// keyed on the composite (time, rowid) ordering so rows sharing a
// timestamp are neither skipped nor repeated across pages. A disabled
// store returns an empty page.
func (s *Store) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	resp := SearchResponse{
		Term:        req.Term,
		NetworkUUID: req.NetworkUUID,
		Channel:     req.Channel,
		LastTime:    noMorePages,
		LastID:      noMorePages,
	}

	s.mu.RLock()
	enabled, db := s.enabled, s.db
	s.mu.RUnlock()
	if !enabled {
		return resp, nil
	}

	var query strings.Builder
	query.WriteString(`SELECT network, channel, time, type, msg, rowid FROM messages WHERE type = ? AND json_extract(msg, '$.text') LIKE ? ESCAPE '\'`)
	args := []any{
		string(types.MessageTypeMessage),
		"%" + likeEscaper.Replace(req.Term) + "%",
	}

	if req.NetworkUUID != "" {
		query.WriteString(" AND network = ?")
		args = append(args, req.NetworkUUID)
	}
	if req.Channel != "" {
		query.WriteString(" AND channel = ?")
		args = append(args, strings.ToLower(req.Channel))
	}
	if req.LastID > 0 {
		// Strictly before the cursor in (time DESC, rowid DESC) order.
		query.WriteString(" AND ((time = ? AND rowid < ?) OR time < ?)")
		args = append(args, req.LastTime, req.LastID, req.LastTime)
	}

	query.WriteString(" ORDER BY time DESC, rowid DESC LIMIT ?")
	args = append(args, searchPageSize)

	rows, err := db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return resp, fmt.Errorf("query search: %w", err)
	}
	defer rows.Close()

	var page []SearchResult
	for rows.Next() {
		var (
			result     SearchResult
			timeMillis int64
			msgType    string
			payload    []byte
		)
		if err := rows.Scan(&result.NetworkUUID, &result.Channel, &timeMillis, &msgType, &payload, &result.RowID); err != nil {
			return resp, fmt.Errorf("scan search row: %w", err)
		}

		msg, err := types.DecodePayload(payload)
		if err != nil {
			return resp, err
		}
		msg.Time = time.UnixMilli(timeMillis)
		msg.Type = types.MessageType(msgType)
		result.Message = msg

		page = append(page, result)
	}
	if err := rows.Err(); err != nil {
		return resp, fmt.Errorf("iterate search rows: %w", err)
	}

	if len(page) > 0 {
		// The cursor is the oldest row of this page, which is the last
		// one in (time DESC, rowid DESC) order.
		oldest := page[len(page)-1]
		resp.LastTime = oldest.Message.Time.UnixMilli()
		resp.LastID = oldest.RowID

		// Deliver the page oldest-first.
		for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
			page[i], page[j] = page[j], page[i]
		}
	}
	resp.Results = page

	return resp, nil
}
