package webhook

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		eventType string
		kind      MessageKind
		want      Category
	}{
		{EventMessagesUpsert, KindConversation, CategoryText},
		{EventMessagesUpsert, KindExtendedText, CategoryText},
		{EventMessagesUpsert, KindImage, CategoryImage},
		{EventMessagesUpsert, KindAudio, CategoryAudio},
		{EventMessagesUpsert, KindVideo, CategoryVideo},
		{EventMessagesUpsert, KindDocument, CategoryDocument},
		{EventMessagesUpsert, KindSticker, CategorySticker},
		{EventMessagesUpsert, KindReaction, CategoryReaction},
		{EventMessagesUpsert, KindUnknown, CategoryUnknown},
		{EventMessagesUpsert, MessageKind("poll"), CategoryUnknown},
		{EventConnectionUpdate, KindUnknown, CategoryConnectionUpdate},
		{"CONNECTION_UPDATE", KindConversation, CategoryConnectionUpdate},
	}

	for _, tt := range tests {
		if got := Classify(tt.eventType, tt.kind); got != tt.want {
			t.Fatalf("Classify(%q, %q) = %q, want %q", tt.eventType, tt.kind, got, tt.want)
		}
	}
}

func TestCategoryFamily(t *testing.T) {
	if got := CategoryConnectionUpdate.Family(); got != EventConnectionUpdate {
		t.Fatalf("family = %q, want %q", got, EventConnectionUpdate)
	}
	for _, category := range []Category{CategoryText, CategoryAudio, CategoryReaction, CategoryUnknown} {
		if got := category.Family(); got != EventMessagesUpsert {
			t.Fatalf("%s family = %q, want %q", category, got, EventMessagesUpsert)
		}
	}
}
