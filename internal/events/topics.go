package events

import "fmt"

const (
	// TopicPageMessage carries same-document messages of an emulated page.
	TopicPageMessage = "page.message"
)

// PanelTopic is the outbound topic of one panel connection.
func PanelTopic(connID string) string {
	return fmt.Sprintf("relay.panel.%s", connID)
}

// ContentTopic is the outbound topic of one content-script connection.
func ContentTopic(connID string) string {
	return fmt.Sprintf("relay.content.%s", connID)
}
