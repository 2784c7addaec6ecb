package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type MongoDbConfigModel struct {
	ConnectionUrl string
	DatabaseName  string
}

// DatabaseFactory hands out database handles, optionally bound to a session.
// The unbound factory is the key sessions are registered under.
type DatabaseFactory interface {
	// GetDatabase resolves the named database, the default one for "".
	GetDatabase(name string) (*Database, error)
	StartSession(ctx context.Context, opts *options.SessionOptions) (ClientSession, error)
	// WithSession returns a view of the factory whose databases use session.
	WithSession(session ClientSession) DatabaseFactory
	// Root returns the unbound factory a view was derived from, the factory
	// itself when it is not a view.
	Root() DatabaseFactory
}

// MongoDBClient is the DatabaseFactory backed by a connected driver client.
type MongoDBClient struct {
	Client  *mongo.Client
	Config  MongoDbConfigModel
	session ClientSession
	root    *MongoDBClient
}

func InitializeDatabaseConnection(config MongoDbConfigModel) (*MongoDBClient, error) {
	clientOptions := options.Client().ApplyURI(config.ConnectionUrl)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(err, "mongodb connect")
	}

	if err := mongoClient.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "mongodb ping")
	}

	zap.S().Infof("MongoDBClient -> InitializeDatabaseConnection -> connected, default database %q", config.DatabaseName)

	return &MongoDBClient{
		Client: mongoClient,
		Config: config,
	}, nil
}

func (client *MongoDBClient) GetDatabase(name string) (*Database, error) {
	if name == "" {
		name = client.Config.DatabaseName
	}
	if name == "" {
		return nil, errors.New("no database name given and no default configured")
	}
	return NewDatabase(client.Client.Database(name), client.session), nil
}

func (client *MongoDBClient) StartSession(_ context.Context, opts *options.SessionOptions) (ClientSession, error) {
	var sessionOpts []*options.SessionOptions
	if opts != nil {
		sessionOpts = append(sessionOpts, opts)
	}
	session, err := client.Client.StartSession(sessionOpts...)
	if err != nil {
		return nil, err
	}
	return NewDriverSession(session), nil
}

func (client *MongoDBClient) WithSession(session ClientSession) DatabaseFactory {
	root := client.root
	if root == nil {
		root = client
	}
	return &MongoDBClient{Client: client.Client, Config: client.Config, session: session, root: root}
}

func (client *MongoDBClient) Root() DatabaseFactory {
	if client.root != nil {
		return client.root
	}
	return client
}

// Disconnect closes the driver client.
func (client *MongoDBClient) Disconnect(ctx context.Context) error {
	return client.Client.Disconnect(ctx)
}
