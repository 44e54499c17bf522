package data

import (
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// FetchS3 downloads s3://bucket/key to dest unless dest already exists.
// Raw corpora for preparation are often staged in object storage; trained
// runs only ever read the local split files.
func FetchS3(region, bucket, key, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return fmt.Errorf("data: create aws session: %w", err)
	}
	svc := s3.New(sess)

	obj, err := svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("data: fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer obj.Body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, obj.Body); err != nil {
		return fmt.Errorf("data: write %s: %w", dest, err)
	}
	return nil
}
