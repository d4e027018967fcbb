package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gridport-io/gridport/internal/models"
	"github.com/gridport-io/gridport/internal/records"
)

// sendWatch streams a table's change feed as newline-delimited WatchEvent
// json. The subscription is established before the initial snapshot is
// fetched so no event between snapshot and first wait is lost; a bookmark
// event marks the end of the snapshot. The optional filter drops events
// outside the caller's scope (e.g. another company's devices). A resync on
// the feed terminates the stream with an error event, since deltas may have
// been lost and only a fresh snapshot can recover.
func (api *API) sendWatch(c *gin.Context, ctx context.Context, topic string, snapshot func() ([]interface{}, error), filter func(models.ChangeEvent) bool) {

	sub := api.signalBus.Subscribe(topic)
	defer sub.Close()

	items, err := snapshot()
	if err != nil {
		api.sendInternalServerError(c, err)
		return
	}
	idx := 0
	bookmarkSent := false

	c.Header("Content-Type", "application/json;stream=watch")
	c.Status(http.StatusOK)
	stream(c, func() models.WatchEvent {
		// This function blocks until there is an event to return...
		for {
			if idx < len(items) {
				result := items[idx]
				idx += 1
				return models.WatchEvent{
					Type:  "change",
					Value: result,
				}
			}

			if !bookmarkSent {
				bookmarkSent = true
				return models.WatchEvent{
					Type: "bookmark",
				}
			}

			if ev, ok := sub.Next(); ok {
				if ev.Type == models.ChangeResync {
					// deltas were lost while the feed was down; end the
					// stream so the client reconnects for a fresh snapshot
					subErr := &records.SubscriptionError{
						Table: records.TopicTable(topic),
						Err:   fmt.Errorf("change feed interrupted"),
					}
					return models.WatchEvent{
						Type:  "error",
						Value: subErr.Error(),
					}
				}
				if filter != nil && !filter(ev) {
					continue
				}
				return watchEventFor(ev)
			}

			if waitForCancelTimeoutOrNotification(ctx, 30*time.Second, sub.Signal()) == -2 {
				// ctx was canceled... likely due to the http connection
				// being closed by the client. Signal the stream is done.
				return models.WatchEvent{
					Type: "close",
				}
			}
		}
	})
}

func watchEventFor(ev models.ChangeEvent) models.WatchEvent {
	if ev.Type == models.ChangeDelete {
		return models.WatchEvent{
			Type:  "delete",
			Value: ev.Old,
		}
	}
	return models.WatchEvent{
		Type:  "change",
		Value: ev.New,
	}
}

func stream(c *gin.Context, nextEvent func() models.WatchEvent) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, models.NewApiInternalError(fmt.Errorf("streaming unsupported")))
		return
	}
	for {
		result := nextEvent()
		if result.Type == "close" {
			return
		}
		_ = json.NewEncoder(c.Writer).Encode(result)
		_, _ = c.Writer.Write([]byte("\n"))
		flusher.Flush() // sends the result to the client (forces Transfer-Encoding: chunked)
		if result.Type == "error" {
			return
		}
	}
}

// waitForCancelTimeoutOrNotification returns -2 if ctx is closed, -1 on
// timeout, and 0 when the channel was notified.
func waitForCancelTimeoutOrNotification(ctx context.Context, timeout time.Duration, notify <-chan struct{}) int {
	tc, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return -2
	case <-tc.Done():
		return -1
	case <-notify:
		return 0
	}
}
