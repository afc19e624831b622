package telegram

import (
	"context"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/tg"
)

// FetchMessage re-reads one message from the server by its canonical chat id.
// Crash recovery uses this to rebuild download locations for tasks whose
// in-memory event was lost, since file references do not survive restarts.
func FetchMessage(ctx context.Context, client *gotgproto.Client, chatID int64, messageID int) (*Event, error) {
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}}

	var messages []tg.MessageClass
	if bare, ok := BareChannelID(chatID); ok {
		peer := client.PeerStorage.GetInputPeerById(chatID)
		channel, isChannel := peer.(*tg.InputPeerChannel)
		if !isChannel {
			return nil, fmt.Errorf("channel %d not in peer storage", chatID)
		}
		res, err := client.API().ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: bare, AccessHash: channel.AccessHash},
			ID:      ids,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch channel message: %w", err)
		}
		msgs, ok := res.(*tg.MessagesChannelMessages)
		if !ok {
			return nil, fmt.Errorf("unexpected channel messages response %T", res)
		}
		messages = msgs.Messages
	} else {
		res, err := client.API().MessagesGetMessages(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("fetch message: %w", err)
		}
		msgs, ok := res.(*tg.MessagesMessages)
		if !ok {
			return nil, fmt.Errorf("unexpected messages response %T", res)
		}
		messages = msgs.Messages
	}

	for _, raw := range messages {
		ev := ParseMessage(raw, EventNewMessage)
		if ev != nil && ev.MessageID == messageID {
			return ev, nil
		}
	}
	return nil, fmt.Errorf("message %d/%d no longer available", chatID, messageID)
}
