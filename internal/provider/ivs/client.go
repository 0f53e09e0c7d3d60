package ivs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ivs"
	"github.com/aws/aws-sdk-go-v2/service/ivs/types"
	"github.com/aws/smithy-go"

	"github.com/splax/streamhealth/internal/domain"
)

// API is the subset of the IVS client used by Client.
type API interface {
	GetStreamSession(ctx context.Context, params *ivs.GetStreamSessionInput, optFns ...func(*ivs.Options)) (*ivs.GetStreamSessionOutput, error)
	PutMetadata(ctx context.Context, params *ivs.PutMetadataInput, optFns ...func(*ivs.Options)) (*ivs.PutMetadataOutput, error)
}

// Client adapts IVS to the channel service and metadata publisher roles.
type Client struct {
	api API
}

// New wraps an IVS API client.
func New(api API) *Client {
	return &Client{api: api}
}

// GetStreamSession fetches the ingest configuration and the recent events of
// a stream session. Missing descriptors are returned as zero values so the
// caller can decide whether the configuration is usable.
func (c *Client) GetStreamSession(ctx context.Context, channelARN, sessionID string) (*domain.StreamSessionDetails, error) {
	out, err := c.api.GetStreamSession(ctx, &ivs.GetStreamSessionInput{
		ChannelArn: aws.String(channelARN),
		StreamId:   aws.String(sessionID),
	})
	if err != nil {
		return nil, fmt.Errorf("get stream session: %w", err)
	}
	if out == nil || out.StreamSession == nil {
		return &domain.StreamSessionDetails{}, nil
	}

	session := out.StreamSession
	details := &domain.StreamSessionDetails{
		TruncatedEvents: make([]domain.StreamEvent, 0, len(session.TruncatedEvents)),
	}
	if session.IngestConfiguration != nil {
		details.IngestConfiguration = ingestConfiguration(session.IngestConfiguration)
	}
	for _, ev := range session.TruncatedEvents {
		details.TruncatedEvents = append(details.TruncatedEvents, domain.StreamEvent{
			Name:      aws.ToString(ev.Name),
			Type:      aws.ToString(ev.Type),
			EventTime: aws.ToTime(ev.EventTime).UTC(),
		})
	}
	return details, nil
}

// PutMetadata inserts timed metadata into the live stream of a channel.
func (c *Client) PutMetadata(ctx context.Context, channelARN string, metadata string) error {
	_, err := c.api.PutMetadata(ctx, &ivs.PutMetadataInput{
		ChannelArn: aws.String(channelARN),
		Metadata:   aws.String(metadata),
	})
	if err != nil {
		return fmt.Errorf("put metadata: %w", err)
	}
	return nil
}

// Retryable reports whether a failed call may succeed when repeated: the
// request was throttled, or the channel has not started broadcasting yet.
func Retryable(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "ChannelNotBroadcasting":
		return true
	default:
		return false
	}
}

func ingestConfiguration(in *types.IngestConfiguration) *domain.IngestConfiguration {
	cfg := &domain.IngestConfiguration{}
	if a := in.Audio; a != nil {
		cfg.Audio = domain.AudioConfiguration{
			Channels:      a.Channels,
			Codec:         strings.TrimSpace(aws.ToString(a.Codec)),
			SampleRate:    a.SampleRate,
			TargetBitrate: a.TargetBitrate,
		}
	}
	if v := in.Video; v != nil {
		cfg.Video = domain.VideoConfiguration{
			AvcLevel:        aws.ToString(v.AvcLevel),
			AvcProfile:      aws.ToString(v.AvcProfile),
			Codec:           strings.TrimSpace(aws.ToString(v.Codec)),
			Encoder:         aws.ToString(v.Encoder),
			TargetBitrate:   v.TargetBitrate,
			TargetFramerate: v.TargetFramerate,
			VideoHeight:     v.VideoHeight,
			VideoWidth:      v.VideoWidth,
		}
	}
	return cfg
}
