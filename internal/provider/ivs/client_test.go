package ivs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ivs"
	"github.com/aws/aws-sdk-go-v2/service/ivs/types"
	"github.com/aws/smithy-go"
	"github.com/google/go-cmp/cmp"

	"github.com/splax/streamhealth/internal/domain"
)

type stubAPI struct {
	session  *types.StreamSession
	getErr   error
	putErr   error
	getInput *ivs.GetStreamSessionInput
	putInput *ivs.PutMetadataInput
}

func (s *stubAPI) GetStreamSession(_ context.Context, in *ivs.GetStreamSessionInput, _ ...func(*ivs.Options)) (*ivs.GetStreamSessionOutput, error) {
	s.getInput = in
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &ivs.GetStreamSessionOutput{StreamSession: s.session}, nil
}

func (s *stubAPI) PutMetadata(_ context.Context, in *ivs.PutMetadataInput, _ ...func(*ivs.Options)) (*ivs.PutMetadataOutput, error) {
	s.putInput = in
	if s.putErr != nil {
		return nil, s.putErr
	}
	return &ivs.PutMetadataOutput{}, nil
}

func TestGetStreamSessionMapsConfiguration(t *testing.T) {
	eventTime := time.Date(2025, time.March, 3, 11, 0, 0, 0, time.UTC)
	api := &stubAPI{session: &types.StreamSession{
		IngestConfiguration: &types.IngestConfiguration{
			Audio: &types.AudioConfiguration{Channels: 2, Codec: aws.String("mp4a.40.2"), SampleRate: 48000, TargetBitrate: 160000},
			Video: &types.VideoConfiguration{
				AvcLevel:        aws.String("4.1"),
				AvcProfile:      aws.String("Main"),
				Codec:           aws.String("avc1.4D4029"),
				Encoder:         aws.String("obs"),
				TargetBitrate:   6000000,
				TargetFramerate: 60,
				VideoHeight:     1080,
				VideoWidth:      1920,
			},
		},
		TruncatedEvents: []types.StreamEvent{
			{Name: aws.String("Session Created"), Type: aws.String("IVS Stream State Change"), EventTime: aws.Time(eventTime)},
		},
	}}

	details, err := New(api).GetStreamSession(context.Background(), "arn:channel/abc", "st-1")
	if err != nil {
		t.Fatalf("get stream session: %v", err)
	}
	if aws.ToString(api.getInput.ChannelArn) != "arn:channel/abc" || aws.ToString(api.getInput.StreamId) != "st-1" {
		t.Fatalf("unexpected request %+v", api.getInput)
	}
	want := &domain.StreamSessionDetails{
		IngestConfiguration: &domain.IngestConfiguration{
			Audio: domain.AudioConfiguration{Channels: 2, Codec: "mp4a.40.2", SampleRate: 48000, TargetBitrate: 160000},
			Video: domain.VideoConfiguration{
				AvcLevel:        "4.1",
				AvcProfile:      "Main",
				Codec:           "avc1.4D4029",
				Encoder:         "obs",
				TargetBitrate:   6000000,
				TargetFramerate: 60,
				VideoHeight:     1080,
				VideoWidth:      1920,
			},
		},
		TruncatedEvents: []domain.StreamEvent{{Name: "Session Created", Type: "IVS Stream State Change", EventTime: eventTime}},
	}
	if diff := cmp.Diff(want, details); diff != "" {
		t.Fatalf("details mismatch (-want +got):\n%s", diff)
	}
	if !details.IngestConfiguration.Complete() {
		t.Fatalf("expected mapped configuration to be complete")
	}
}

func TestGetStreamSessionWithoutVideoIsIncomplete(t *testing.T) {
	api := &stubAPI{session: &types.StreamSession{
		IngestConfiguration: &types.IngestConfiguration{
			Audio: &types.AudioConfiguration{Channels: 2, Codec: aws.String("mp4a.40.2"), SampleRate: 48000, TargetBitrate: 160000},
		},
	}}
	details, err := New(api).GetStreamSession(context.Background(), "arn", "st-1")
	if err != nil {
		t.Fatalf("get stream session: %v", err)
	}
	if details.IngestConfiguration == nil || details.IngestConfiguration.Complete() {
		t.Fatalf("expected an incomplete configuration, got %+v", details.IngestConfiguration)
	}
}

func TestPutMetadataWrapsErrors(t *testing.T) {
	cause := &smithy.GenericAPIError{Code: "ChannelNotBroadcasting", Message: "channel offline"}
	api := &stubAPI{putErr: cause}
	err := New(api).PutMetadata(context.Background(), "arn", `{"name":"poll"}`)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if aws.ToString(api.putInput.Metadata) != `{"name":"poll"}` {
		t.Fatalf("unexpected metadata %q", aws.ToString(api.putInput.Metadata))
	}
	if !Retryable(err) {
		t.Fatalf("expected offline channel to be retryable")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"throttled", fmt.Errorf("put metadata: %w", &smithy.GenericAPIError{Code: "ThrottlingException"}), true},
		{"not broadcasting", &types.ChannelNotBroadcasting{Message: aws.String("offline")}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDeniedException"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
