package engine

import (
	"fmt"

	"heartbeat/internal/event"
	"heartbeat/internal/notify"
)

// renderSubscription maps each subscription kind to its rendering-ready
// payload. The type switch is the exhaustive matching boundary for the
// subscription union; anything else is a malformed event.
func renderSubscription(s event.Subscription) (notify.Notification, error) {
	switch v := s.(type) {
	case event.NewSub:
		return notify.Notification{
			Title: "NEW SUB: " + v.Identity,
			Body:  string(v.Plan),
			Tag:   "subscription",
		}, nil

	case event.Resub:
		body := fmt.Sprintf("%d months - %s", v.Months, v.Plan)
		if v.Streak > 0 {
			body += fmt.Sprintf(" (%d mo streak)", v.Streak)
		}
		return notify.Notification{
			Title: "RESUB: " + v.Identity,
			Body:  body,
			Tag:   "subscription",
		}, nil

	case event.Gift:
		body := fmt.Sprintf("Gifted to %s - %s", v.Recipient, v.Plan)
		if v.TotalGifts > 0 {
			body += fmt.Sprintf(" (%d total)", v.TotalGifts)
		}
		return notify.Notification{
			Title: "GIFT: " + v.Gifter,
			Body:  body,
			Tag:   "subscription",
		}, nil

	case event.GiftBomb:
		body := fmt.Sprintf("%dx %s subs!", v.GiftCount, v.Plan)
		if v.TotalGifts > 0 {
			body += fmt.Sprintf(" (%d total)", v.TotalGifts)
		}
		return notify.Notification{
			Title: "GIFT BOMB: " + v.Gifter,
			Body:  body,
			Tag:   "subscription",
		}, nil

	case event.PrimeUpgrade:
		return notify.Notification{
			Title: "UPGRADE: " + v.Identity,
			Body:  "Prime to " + string(v.Plan),
			Tag:   "subscription",
		}, nil

	case event.GiftUpgrade:
		body := "Continued sub"
		if v.Gifter != "" {
			body += " (gift from " + v.Gifter + ")"
		}
		body += " - " + string(v.Plan)
		return notify.Notification{
			Title: "UPGRADE: " + v.Identity,
			Body:  body,
			Tag:   "subscription",
		}, nil

	default:
		return notify.Notification{}, fmt.Errorf("%w: unhandled subscription type %T", event.ErrMalformed, s)
	}
}
