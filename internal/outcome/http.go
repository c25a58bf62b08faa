package outcome

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	sdkhttp "github.com/betbot/bucketmm/pkg/sdk/http"
)

var log = logrus.WithField("component", "outcome")

// HTTPSink 把结果 POST 到收集端。
type HTTPSink struct {
	http *sdkhttp.Client
}

// NewHTTPSink 创建 HTTP 投递端；url 为完整的上报地址
func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{http: sdkhttp.NewClient(url)}
}

// Report 投递一条回合记录。调用方已约定失败不重试、不阻塞。
func (s *HTTPSink) Report(ctx context.Context, rec Record) error {
	rec.Version = SchemaVersion
	resp, err := s.http.DoRequest(ctx, http.MethodPost, "", &sdkhttp.RequestOptions{Data: rec}, nil)
	if err := sdkhttp.ParseHTTPError(resp, err); err != nil {
		log.WithError(err).WithField("bucket_ts", rec.BucketTS).Warn("⚠️ 回合结果上报失败")
		return err
	}
	return nil
}
