package notify

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

type messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM pushes to one topic per user, which the mobile clients subscribe to.
type FCM struct {
	client messenger
}

func NewFCM(client *messaging.Client) *FCM {
	return &FCM{client: client}
}

func UserTopic(id string) string {
	return "user_" + id
}

func (f *FCM) Send(ctx context.Context, e Event) error {
	data := map[string]string{"type": e.Type, "booking_id": string(e.BookingID)}
	for k, v := range e.Data {
		data[k] = v
	}
	topics := make([]string, 0, len(e.Recipients)+len(e.Topics))
	for _, r := range e.Recipients {
		topics = append(topics, UserTopic(string(r)))
	}
	topics = append(topics, e.Topics...)

	var errs []error
	for _, topic := range topics {
		_, err := f.client.Send(ctx, &messaging.Message{
			Topic:        topic,
			Notification: &messaging.Notification{Title: e.Title, Body: e.Body},
			Data:         data,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("fcm %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}
