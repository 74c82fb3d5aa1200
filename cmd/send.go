package cmd

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wakit/pkg/evolution"

	"github.com/spf13/cobra"
)

var (
	sendDelay    time.Duration
	sendPreview  bool
	mediaType    string
	mediaMime    string
	mediaCaption string
	locationName string
	locationAddr string
	locationLat  float64
	locationLng  float64
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a message through the instance",
}

var sendTextCmd = &cobra.Command{
	Use:   "text <number> <text...>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := commandClient()
		if err != nil {
			return err
		}

		result, err := client.SendText(cmd.Context(), evolution.TextMessage{
			Number:      args[0],
			Text:        strings.Join(args[1:], " "),
			Delay:       sendDelay,
			LinkPreview: sendPreview,
		})
		if err != nil {
			return err
		}
		printSent(cmd.OutOrStdout(), result)
		return nil
	},
}

var sendLocationCmd = &cobra.Command{
	Use:   "location <number>",
	Short: "Send a location pin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := commandClient()
		if err != nil {
			return err
		}

		result, err := client.SendLocation(cmd.Context(), evolution.LocationMessage{
			Number:    args[0],
			Name:      locationName,
			Address:   locationAddr,
			Latitude:  locationLat,
			Longitude: locationLng,
		})
		if err != nil {
			return err
		}
		printSent(cmd.OutOrStdout(), result)
		return nil
	},
}

var sendMediaCmd = &cobra.Command{
	Use:   "media <number> <file-or-url>",
	Short: "Send an image, video or document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := commandClient()
		if err != nil {
			return err
		}

		payload, err := mediaPayload(args[1])
		if err != nil {
			return err
		}

		mimeType := mediaMime
		if mimeType == "" {
			mimeType = payload.mimeType
		}
		kind := mediaType
		if kind == "" {
			kind = mediaKindFor(mimeType)
		}

		result, err := client.SendMedia(cmd.Context(), evolution.MediaMessage{
			Number:    args[0],
			MediaType: kind,
			MimeType:  mimeType,
			Caption:   mediaCaption,
			Media:     payload.data,
			FileName:  payload.fileName,
		})
		if err != nil {
			return err
		}
		printSent(cmd.OutOrStdout(), result)
		return nil
	},
}

var sendAudioCmd = &cobra.Command{
	Use:   "audio <number> <file-or-url>",
	Short: "Send a voice note",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := commandClient()
		if err != nil {
			return err
		}

		payload, err := mediaPayload(args[1])
		if err != nil {
			return err
		}

		result, err := client.SendAudio(cmd.Context(), evolution.AudioMessage{
			Number: args[0],
			Audio:  payload.data,
			Delay:  sendDelay,
		})
		if err != nil {
			return err
		}
		printSent(cmd.OutOrStdout(), result)
		return nil
	},
}

var sendStickerCmd = &cobra.Command{
	Use:   "sticker <number> <file-or-url>",
	Short: "Send a sticker",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := commandClient()
		if err != nil {
			return err
		}

		payload, err := mediaPayload(args[1])
		if err != nil {
			return err
		}

		result, err := client.SendSticker(cmd.Context(), evolution.StickerMessage{
			Number:  args[0],
			Sticker: payload.data,
		})
		if err != nil {
			return err
		}
		printSent(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	sendTextCmd.Flags().DurationVar(&sendDelay, "delay", 0, "typing delay before the message is sent")
	sendTextCmd.Flags().BoolVar(&sendPreview, "link-preview", false, "render link previews")
	sendAudioCmd.Flags().DurationVar(&sendDelay, "delay", 0, "recording delay before the note is sent")

	sendMediaCmd.Flags().StringVar(&mediaType, "type", "", "image, video or document (default from MIME type)")
	sendMediaCmd.Flags().StringVar(&mediaMime, "mime", "", "MIME type (default from file extension)")
	sendMediaCmd.Flags().StringVar(&mediaCaption, "caption", "", "caption text")

	sendLocationCmd.Flags().StringVar(&locationName, "name", "", "place name")
	sendLocationCmd.Flags().StringVar(&locationAddr, "address", "", "street address")
	sendLocationCmd.Flags().Float64Var(&locationLat, "lat", 0, "latitude")
	sendLocationCmd.Flags().Float64Var(&locationLng, "lng", 0, "longitude")
	_ = sendLocationCmd.MarkFlagRequired("lat")
	_ = sendLocationCmd.MarkFlagRequired("lng")

	sendCmd.AddCommand(sendTextCmd, sendLocationCmd, sendMediaCmd, sendAudioCmd, sendStickerCmd)
	rootCmd.AddCommand(sendCmd)
}

type media struct {
	data     string
	mimeType string
	fileName string
}

// mediaPayload passes URLs through and base64-encodes local files.
func mediaPayload(source string) (media, error) {
	source = strings.TrimSpace(source)
	fileName := filepath.Base(source)
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(source)))

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		if i := strings.IndexAny(fileName, "?#"); i >= 0 {
			fileName = fileName[:i]
			mimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
		}
		return media{data: source, mimeType: mimeType, fileName: fileName}, nil
	}

	file, err := os.Open(source)
	if err != nil {
		return media{}, fmt.Errorf("open media: %w", err)
	}
	defer file.Close()

	data, err := evolution.EncodeBase64(file)
	if err != nil {
		return media{}, fmt.Errorf("encode media: %w", err)
	}
	return media{data: data, mimeType: mimeType, fileName: fileName}, nil
}

func mediaKindFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "document"
	}
}

func printSent(w io.Writer, result evolution.SendResult) {
	printOK(w, "Message queued")
	printField(w, "id", result.MessageID)
	printField(w, "to", result.RemoteJID)
	if result.Status != "" {
		printField(w, "status", result.Status)
	}
}
