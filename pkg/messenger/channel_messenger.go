/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"context"
	"time"
)

// ChannelMessenger is a view of a Messenger restricted to a single channel.
type ChannelMessenger struct {
	messenger *Messenger
	id        ChannelID
}

func (cm *ChannelMessenger) ID() ChannelID {
	return cm.id
}

func (cm *ChannelMessenger) Messenger() *Messenger {
	return cm.messenger
}

func (cm *ChannelMessenger) SendMessage(payload []byte) (MessageID, error) {
	return cm.messenger.SendMessage(cm.id, payload)
}

func (cm *ChannelMessenger) SendMessageAndWait(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	return cm.messenger.SendMessageAndWait(ctx, cm.id, payload, timeout)
}

// SendReply replies to a message previously received on this channel.
func (cm *ChannelMessenger) SendReply(messageID MessageID, payload []byte) error {
	return cm.messenger.SendReply(Envelope{ChannelID: cm.id, MessageID: messageID}, payload)
}

func (cm *ChannelMessenger) ReceiveMessage(ctx context.Context, timeout time.Duration) (MessageID, []byte, error) {
	return cm.messenger.ReceiveMessage(ctx, cm.id, timeout)
}

// Close deletes the channel. Closing a view of the default channel closes the whole messenger.
func (cm *ChannelMessenger) Close() error {
	if cm.id == DefaultChannel {
		return cm.messenger.Close()
	}
	return cm.messenger.DeleteChannel(cm.id)
}
