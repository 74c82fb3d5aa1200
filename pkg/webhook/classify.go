package webhook

// Category is the routing key handlers subscribe to.
type Category string

const (
	CategoryText             Category = "text"
	CategoryAudio            Category = "audio"
	CategoryImage            Category = "image"
	CategoryVideo            Category = "video"
	CategoryDocument         Category = "document"
	CategorySticker          Category = "sticker"
	CategoryReaction         Category = "reaction"
	CategoryConnectionUpdate Category = "connection_update"
	CategoryUnknown          Category = "unknown"
)

var kindCategories = map[MessageKind]Category{
	KindConversation: CategoryText,
	KindExtendedText: CategoryText,
	KindImage:        CategoryImage,
	KindAudio:        CategoryAudio,
	KindVideo:        CategoryVideo,
	KindDocument:     CategoryDocument,
	KindSticker:      CategorySticker,
	KindReaction:     CategoryReaction,
}

// Classify maps an event family and message kind to a routing category.
// The connection family wins over any message kind.
func Classify(eventType string, kind MessageKind) Category {
	if NormalizeEventType(eventType) == EventConnectionUpdate {
		return CategoryConnectionUpdate
	}
	if category, ok := kindCategories[kind]; ok {
		return category
	}
	return CategoryUnknown
}

// Family is the event family whose deliveries can produce this category.
func (c Category) Family() string {
	if c == CategoryConnectionUpdate {
		return EventConnectionUpdate
	}
	return EventMessagesUpsert
}
