// Package qdrant provides a gRPC client for a Qdrant vector database.
// A collection serves as the source of high-dimensional vectors for a fit,
// and the resulting coordinates can be written back onto the same points as
// payload.
package qdrant

import (
	"context"
	"fmt"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"
	"gonum.org/v1/gonum/mat"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	// scrollPageSize is the number of points requested per Scroll call.
	scrollPageSize = 256

	// CoordinatesKey is the payload key that receives the embedded coordinates.
	CoordinatesKey = "tsne"
	// RunKey is the payload key that receives the run identifier.
	RunKey = "tsne_run"
	// TextKey is the payload key read as the point's label.
	TextKey = "text"
)

// Client wraps the gRPC connection to a Qdrant instance and one collection.
type Client struct {
	connection        *grpc.ClientConn
	pointsClient      pb.PointsClient
	collectionsClient pb.CollectionsClient
	collectionName    string
}

// Point is one stored vector with its text payload.
type Point struct {
	ID     string
	Text   string
	Vector []float32

	id *pb.PointId
}

// NewClient connects to the Qdrant server at address and checks that the
// collection exists.
func NewClient(ctx context.Context, address, collectionName string) (*Client, error) {
	connection, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	client := &Client{
		connection:        connection,
		pointsClient:      pb.NewPointsClient(connection),
		collectionsClient: pb.NewCollectionsClient(connection),
		collectionName:    collectionName,
	}

	if _, err := client.collectionsClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: collectionName,
	}); err != nil {
		connection.Close()
		return nil, fmt.Errorf("collection %q: %w", collectionName, err)
	}

	return client, nil
}

// ScrollAll pages through the collection and returns every point with its
// vector and payload. A positive limit stops after that many points.
// Points without a dense vector are skipped.
func (client *Client) ScrollAll(ctx context.Context, limit int) ([]Point, error) {
	var points []Point
	var offset *pb.PointId

	for {
		pageSize := uint32(scrollPageSize)
		if limit > 0 {
			remaining := limit - len(points)
			if remaining <= 0 {
				break
			}
			pageSize = uint32(min(remaining, scrollPageSize))
		}

		scrollResponse, err := client.pointsClient.Scroll(ctx, client.scrollRequest(offset, pageSize))
		if err != nil {
			return nil, fmt.Errorf("scroll points: %w", err)
		}

		for _, retrievedPoint := range scrollResponse.GetResult() {
			point := pointFromRetrieved(retrievedPoint)
			if len(point.Vector) == 0 {
				continue
			}
			points = append(points, point)
		}

		offset = scrollResponse.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	return points, nil
}

func (client *Client) scrollRequest(offset *pb.PointId, pageSize uint32) *pb.ScrollPoints {
	return &pb.ScrollPoints{
		CollectionName: client.collectionName,
		Offset:         offset,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		Limit:          pb.PtrOf(pageSize),
	}
}

func pointFromRetrieved(retrievedPoint *pb.RetrievedPoint) Point {
	point := Point{
		ID: formatPointID(retrievedPoint.GetId()),
		id: retrievedPoint.GetId(),
	}

	if textPayload, exists := retrievedPoint.GetPayload()[TextKey]; exists {
		point.Text = textPayload.GetStringValue()
	}
	if vectorData := retrievedPoint.GetVectors().GetVector(); vectorData != nil {
		point.Vector = vectorData.GetData()
	}
	return point
}

// formatPointID renders UUID and numeric ids alike.
func formatPointID(id *pb.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// Vectors splits points into their vectors and texts, in order.
func Vectors(points []Point) ([][]float32, []string) {
	vectors := make([][]float32, len(points))
	texts := make([]string, len(points))
	for i, point := range points {
		vectors[i] = point.Vector
		texts[i] = point.Text
		if texts[i] == "" {
			texts[i] = point.ID
		}
	}
	return vectors, texts
}

// WriteCoordinates stores row i of coordinates on points[i] under
// CoordinatesKey, together with runID under RunKey. Other payload keys are
// left untouched.
func (client *Client) WriteCoordinates(ctx context.Context, points []Point, coordinates mat.Matrix, runID string) error {
	rows, _ := coordinates.Dims()
	if rows != len(points) {
		return fmt.Errorf("got %d coordinate rows for %d points", rows, len(points))
	}

	for i, point := range points {
		if point.id == nil {
			return fmt.Errorf("point %d was not read from qdrant", i)
		}

		_, err := client.pointsClient.SetPayload(ctx, &pb.SetPayloadPoints{
			CollectionName: client.collectionName,
			Wait:           pb.PtrOf(true),
			Payload:        coordinatePayload(mat.Row(nil, i, coordinates), runID),
			PointsSelector: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Points{
					Points: &pb.PointsIdsList{Ids: []*pb.PointId{point.id}},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("set payload on point %s: %w", point.ID, err)
		}
	}

	return nil
}

func coordinatePayload(coordinates []float64, runID string) map[string]*pb.Value {
	values := make([]*pb.Value, len(coordinates))
	for i, coordinate := range coordinates {
		values[i] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: coordinate}}
	}

	return map[string]*pb.Value{
		CoordinatesKey: {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}},
		RunKey:         {Kind: &pb.Value_StringValue{StringValue: runID}},
	}
}

// Close terminates the gRPC connection to the Qdrant server.
func (client *Client) Close() error {
	return client.connection.Close()
}
