package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/npezzotti/go-chatserver/internal/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	accountsCollection  = "accounts"
	groupsCollection    = "groups"
	messagesCollection  = "messages"
	seenMarksCollection = "seen_marks"
	contactsCollection  = "contacts"
)

type MongoChatRepository struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoChatRepository(ctx context.Context, uri, dbName string) (*MongoChatRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	repo := &MongoChatRepository{
		client: client,
		db:     client.Database(dbName),
	}

	if err := repo.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	return repo, nil
}

func (r *MongoChatRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return err
	}

	_, err = r.db.Collection(seenMarksCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "conversation_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = r.db.Collection(accountsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *MongoChatRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *MongoChatRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

func (r *MongoChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (types.User, error) {
	now := time.Now().UTC()
	doc := accountDoc{
		Username:     params.Username,
		EmailAddress: params.EmailAddress,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	res, err := r.db.Collection(accountsCollection).InsertOne(ctx, doc)
	if err != nil {
		return types.User{}, fmt.Errorf("insert account: %w", err)
	}

	doc.Id = res.InsertedID.(primitive.ObjectID)
	return accountToUser(doc), nil
}

func (r *MongoChatRepository) GetAccountById(ctx context.Context, accountId string) (types.User, error) {
	oid, err := primitive.ObjectIDFromHex(accountId)
	if err != nil {
		return types.User{}, ErrNotFound
	}

	var doc accountDoc
	err = r.db.Collection(accountsCollection).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, fmt.Errorf("find account: %w", err)
	}

	return accountToUser(doc), nil
}

func (r *MongoChatRepository) GetAccountByEmail(ctx context.Context, email string) (types.User, error) {
	var doc accountDoc
	err := r.db.Collection(accountsCollection).FindOne(ctx, bson.M{"email": email}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, fmt.Errorf("find account: %w", err)
	}

	user := accountToUser(doc)
	user.Password = doc.PasswordHash
	return user, nil
}

func (r *MongoChatRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (types.Group, error) {
	now := time.Now().UTC()
	members := params.Members
	if !slices.Contains(members, params.OwnerId) {
		members = append(members, params.OwnerId)
	}

	doc := groupDoc{
		Name:      params.Name,
		OwnerId:   params.OwnerId,
		Members:   members,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := r.db.Collection(groupsCollection).InsertOne(ctx, doc)
	if err != nil {
		return types.Group{}, fmt.Errorf("insert group: %w", err)
	}

	doc.Id = res.InsertedID.(primitive.ObjectID)
	return groupToType(doc), nil
}

func (r *MongoChatRepository) GetGroup(ctx context.Context, groupId string) (types.Group, error) {
	doc, err := r.findGroup(ctx, groupId)
	if err != nil {
		return types.Group{}, err
	}
	return groupToType(doc), nil
}

func (r *MongoChatRepository) AddGroupMember(ctx context.Context, groupId, accountId string) error {
	oid, err := primitive.ObjectIDFromHex(groupId)
	if err != nil {
		return ErrNotFound
	}

	res, err := r.db.Collection(groupsCollection).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$addToSet": bson.M{"members": accountId},
		"$inc":      bson.M{"version": 1},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *MongoChatRepository) ListGroupsForAccount(ctx context.Context, accountId string) ([]types.Group, error) {
	cur, err := r.db.Collection(groupsCollection).Find(ctx, bson.M{"members": accountId})
	if err != nil {
		return nil, fmt.Errorf("find groups: %w", err)
	}
	defer cur.Close(ctx)

	var groups []types.Group
	for cur.Next(ctx) {
		var doc groupDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode group: %w", err)
		}
		groups = append(groups, groupToType(doc))
	}

	return groups, cur.Err()
}

func (r *MongoChatRepository) FetchMembers(ctx context.Context, groupId string) ([]string, error) {
	doc, err := r.findGroup(ctx, groupId)
	if err != nil {
		return nil, err
	}
	return doc.Members, nil
}

func (r *MongoChatRepository) FetchMembershipVersion(ctx context.Context, groupId string) (int64, error) {
	doc, err := r.findGroup(ctx, groupId)
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

func (r *MongoChatRepository) findGroup(ctx context.Context, groupId string) (groupDoc, error) {
	oid, err := primitive.ObjectIDFromHex(groupId)
	if err != nil {
		return groupDoc{}, ErrNotFound
	}

	var doc groupDoc
	err = r.db.Collection(groupsCollection).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return groupDoc{}, ErrNotFound
		}
		return groupDoc{}, fmt.Errorf("find group: %w", err)
	}

	return doc, nil
}

func (r *MongoChatRepository) PersistMessage(ctx context.Context, msg *types.Message, gateHash string) (string, error) {
	doc := messageDoc{
		ConversationId: msg.ConversationId,
		SenderId:       msg.SenderId,
		GroupId:        msg.GroupId,
		RecipientId:    msg.RecipientId,
		Content:        msg.Content,
		PasswordHash:   gateHash,
		CreatedAt:      msg.Timestamp,
	}
	if msg.Attachment != nil {
		doc.Attachment = &attachmentDoc{
			Id:       msg.Attachment.Id,
			Name:     msg.Attachment.Name,
			MimeType: msg.Attachment.MimeType,
			Size:     msg.Attachment.Size,
		}
	}

	res, err := r.db.Collection(messagesCollection).InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	// ObjectIDs embed the creation time, so ids sort in write order
	// within a conversation.
	return res.InsertedID.(primitive.ObjectID).Hex(), nil
}

func (r *MongoChatRepository) QueryHistory(ctx context.Context, conversationId, sinceId string, limit int) ([]types.Message, error) {
	filter := bson.M{"conversation_id": conversationId}
	if sinceId != "" {
		oid, err := primitive.ObjectIDFromHex(sinceId)
		if err != nil {
			return nil, fmt.Errorf("invalid since id %q", sinceId)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cur, err := r.db.Collection(messagesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	var msgs []types.Message
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, messageToType(doc))
	}

	return msgs, cur.Err()
}

func (r *MongoChatRepository) GetMessage(ctx context.Context, messageId string) (types.Message, error) {
	doc, err := r.findMessage(ctx, messageId)
	if err != nil {
		return types.Message{}, err
	}
	return messageToType(doc), nil
}

func (r *MongoChatRepository) GetGatedMessage(ctx context.Context, messageId string) (types.Message, string, error) {
	doc, err := r.findMessage(ctx, messageId)
	if err != nil {
		return types.Message{}, "", err
	}

	msg := messageToType(doc)
	msg.Locked = false
	msg.Content = doc.Content
	return msg, doc.PasswordHash, nil
}

func (r *MongoChatRepository) findMessage(ctx context.Context, messageId string) (messageDoc, error) {
	oid, err := primitive.ObjectIDFromHex(messageId)
	if err != nil {
		return messageDoc{}, ErrNotFound
	}

	var doc messageDoc
	err = r.db.Collection(messagesCollection).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return messageDoc{}, ErrNotFound
		}
		return messageDoc{}, fmt.Errorf("find message: %w", err)
	}

	return doc, nil
}

func (r *MongoChatRepository) GetSeenMark(ctx context.Context, userId, conversationId string) (types.SeenMark, error) {
	var doc seenMarkDoc
	err := r.db.Collection(seenMarksCollection).FindOne(ctx, bson.M{
		"user_id":         userId,
		"conversation_id": conversationId,
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.SeenMark{}, ErrNotFound
		}
		return types.SeenMark{}, fmt.Errorf("find seen mark: %w", err)
	}

	return types.SeenMark{
		UserId:         doc.UserId,
		ConversationId: doc.ConversationId,
		MessageId:      doc.MessageId,
		Timestamp:      doc.Timestamp,
	}, nil
}

func (r *MongoChatRepository) PutSeenMarks(ctx context.Context, batch []types.SeenMark) error {
	if len(batch) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(batch))
	for _, mark := range batch {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{
				"user_id":         mark.UserId,
				"conversation_id": mark.ConversationId,
				// guard against regressing a mark written since we read it
				"timestamp": bson.M{"$lt": mark.Timestamp},
			}).
			SetUpdate(bson.M{"$set": bson.M{
				"user_id":         mark.UserId,
				"conversation_id": mark.ConversationId,
				"message_id":      mark.MessageId,
				"timestamp":       mark.Timestamp,
			}}).
			SetUpsert(true))
	}

	_, err := r.db.Collection(seenMarksCollection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		// duplicate key errors here mean another writer already advanced
		// the mark past ours, which satisfies the monotonic contract
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && allDuplicateKey(bwe) {
			return nil
		}
		return fmt.Errorf("bulk write seen marks: %w", err)
	}

	return nil
}

func allDuplicateKey(bwe mongo.BulkWriteException) bool {
	if len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

func (r *MongoChatRepository) ListContacts(ctx context.Context, ownerId string) ([]types.Contact, error) {
	cur, err := r.db.Collection(contactsCollection).Find(ctx, bson.M{"owner_id": ownerId})
	if err != nil {
		return nil, fmt.Errorf("find contacts: %w", err)
	}
	defer cur.Close(ctx)

	var contacts []types.Contact
	for cur.Next(ctx) {
		var doc contactDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode contact: %w", err)
		}
		contacts = append(contacts, types.Contact{
			OwnerId:   doc.OwnerId,
			ContactId: doc.ContactId,
			Alias:     doc.Alias,
			CreatedAt: doc.CreatedAt,
		})
	}

	return contacts, cur.Err()
}

func (r *MongoChatRepository) AddContact(ctx context.Context, contact types.Contact) error {
	doc := contactDoc{
		OwnerId:   contact.OwnerId,
		ContactId: contact.ContactId,
		Alias:     contact.Alias,
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.db.Collection(contactsCollection).InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}

	return nil
}

func accountToUser(doc accountDoc) types.User {
	return types.User{
		Id:           doc.Id.Hex(),
		Username:     doc.Username,
		EmailAddress: doc.EmailAddress,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

func groupToType(doc groupDoc) types.Group {
	return types.Group{
		Id:        doc.Id.Hex(),
		Name:      doc.Name,
		OwnerId:   doc.OwnerId,
		Members:   doc.Members,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func messageToType(doc messageDoc) types.Message {
	msg := types.Message{
		Id:             doc.Id.Hex(),
		ConversationId: doc.ConversationId,
		SenderId:       doc.SenderId,
		GroupId:        doc.GroupId,
		RecipientId:    doc.RecipientId,
		Content:        doc.Content,
		Timestamp:      doc.CreatedAt,
	}
	if doc.PasswordHash != "" {
		// gated content never leaves the store through history queries
		msg.Locked = true
		msg.Content = ""
	}
	if doc.Attachment != nil {
		msg.Attachment = &types.Attachment{
			Id:       doc.Attachment.Id,
			Name:     doc.Attachment.Name,
			MimeType: doc.Attachment.MimeType,
			Size:     doc.Attachment.Size,
		}
	}
	return msg
}
