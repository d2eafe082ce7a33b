package services

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jakehl/goid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"github.com/sirupsen/logrus"
)

var acmeValidate *validator.Validate

// acmeSignatureAlgorithms are the JWS algorithms accepted on ACME requests.
var acmeSignatureAlgorithms = []jwa.SignatureAlgorithm{
	jwa.RS256,
	jwa.ES256,
	jwa.ES384,
	jwa.EdDSA,
}

type ACMEServiceBackend struct {
	caSDK         services.CAService
	accountRepo   storage.ACMEAccountRepo
	orderRepo     storage.ACMEOrderRepo
	authzRepo     storage.ACMEAuthorizationRepo
	challengeRepo storage.ACMEChallengeRepo
	nonceRepo     storage.ACMENonceRepo
	logger        *logrus.Entry
	service       services.ACMEService
	validator     *challengeValidator

	caID              string
	profileID         string
	directoryBaseURL  string
	termsOfServiceURL string
	requireContact    bool
	allowWildcards    bool

	nonceValidity time.Duration
	orderValidity time.Duration
	authzValidity time.Duration
}

type ACMEServiceBuilder struct {
	Logger        *logrus.Entry
	CAClient      services.CAService
	AccountRepo   storage.ACMEAccountRepo
	OrderRepo     storage.ACMEOrderRepo
	AuthzRepo     storage.ACMEAuthorizationRepo
	ChallengeRepo storage.ACMEChallengeRepo
	NonceRepo     storage.ACMENonceRepo

	CAID              string
	ProfileID         string
	DirectoryBaseURL  string
	TermsOfServiceURL string
	RequireContact    bool
	AllowWildcards    bool

	NonceValidity         time.Duration
	OrderValidity         time.Duration
	AuthorizationValidity time.Duration
	ChallengeTimeout      time.Duration
	HTTP01Port            int
	DNSResolver           string
}

func NewACMEService(builder ACMEServiceBuilder) (services.ACMEService, error) {
	acmeValidate = validator.New()

	nonceValidity := builder.NonceValidity
	if nonceValidity <= 0 {
		nonceValidity = 1 * time.Hour
	}

	orderValidity := builder.OrderValidity
	if orderValidity <= 0 {
		orderValidity = 24 * time.Hour
	}

	authzValidity := builder.AuthorizationValidity
	if authzValidity <= 0 {
		authzValidity = 24 * time.Hour
	}

	svc := &ACMEServiceBackend{
		caSDK:             builder.CAClient,
		accountRepo:       builder.AccountRepo,
		orderRepo:         builder.OrderRepo,
		authzRepo:         builder.AuthzRepo,
		challengeRepo:     builder.ChallengeRepo,
		nonceRepo:         builder.NonceRepo,
		logger:            builder.Logger,
		validator:         newChallengeValidator(builder.Logger, builder.HTTP01Port, builder.DNSResolver, builder.ChallengeTimeout),
		caID:              builder.CAID,
		profileID:         builder.ProfileID,
		directoryBaseURL:  strings.TrimSuffix(builder.DirectoryBaseURL, "/"),
		termsOfServiceURL: builder.TermsOfServiceURL,
		requireContact:    builder.RequireContact,
		allowWildcards:    builder.AllowWildcards,
		nonceValidity:     nonceValidity,
		orderValidity:     orderValidity,
		authzValidity:     authzValidity,
	}

	svc.service = svc

	return svc, nil
}

func (svc *ACMEServiceBackend) SetService(service services.ACMEService) {
	svc.service = service
}

func (svc *ACMEServiceBackend) NewNonce(ctx context.Context) (string, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		lFunc.Errorf("could not generate nonce: %s", err)
		return "", errs.ACMEServerInternalProblem("could not generate nonce")
	}

	value := base64.RawURLEncoding.EncodeToString(raw)
	now := time.Now()
	_, err := svc.nonceRepo.Insert(ctx, &models.ACMENonce{
		Value:      value,
		ExpiresAt:  now.Add(svc.nonceValidity),
		CreationTS: now,
	})
	if err != nil {
		lFunc.Errorf("could not store nonce: %s", err)
		return "", errs.ACMEServerInternalProblem("could not store nonce")
	}

	return value, nil
}

func (svc *ACMEServiceBackend) VerifyRequest(ctx context.Context, input services.VerifyRequestInput) (*services.VerifiedRequest, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		lFunc.Errorf("VerifyRequestInput struct validation error: %s", err)
		return nil, errs.ACMEMalformedProblem("empty request")
	}

	msg, err := jws.Parse(input.Body)
	if err != nil {
		lFunc.Debugf("could not parse JWS: %s", err)
		return nil, errs.ACMEMalformedProblem("request body is not a valid JWS")
	}

	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, errs.ACMEMalformedProblem("JWS must carry exactly one signature")
	}

	headers := sigs[0].ProtectedHeaders()

	alg := headers.Algorithm()
	if !signatureAlgorithmAllowed(alg) {
		return nil, errs.ACMEBadSignatureAlgorithmProblem("algorithm %q is not supported", headers.Algorithm())
	}

	urlRaw, ok := headers.Get("url")
	if !ok {
		return nil, errs.ACMEMalformedProblem("protected header is missing the url field")
	}

	headerURL, _ := urlRaw.(string)
	if headerURL != input.URL {
		return nil, errs.ACMEMalformedProblem("JWS url %q does not match the request URL", headerURL)
	}

	nonceRaw, ok := headers.Get("nonce")
	if !ok {
		return nil, errs.ACMEBadNonceProblem()
	}

	nonce, _ := nonceRaw.(string)
	consumed, err := svc.nonceRepo.Consume(ctx, nonce, time.Now())
	if err != nil {
		lFunc.Errorf("could not consume nonce: %s", err)
		return nil, errs.ACMEServerInternalProblem("could not verify nonce")
	}

	if !consumed {
		return nil, errs.ACMEBadNonceProblem()
	}

	embeddedKey := headers.JWK()
	kid := headers.KeyID()

	if embeddedKey != nil && kid != "" {
		return nil, errs.ACMEMalformedProblem("JWS must not carry both jwk and kid")
	}

	if embeddedKey == nil && kid == "" {
		return nil, errs.ACMEMalformedProblem("JWS must carry either jwk or kid")
	}

	verified := services.VerifiedRequest{}

	var verifyKey jwk.Key
	if embeddedKey != nil {
		if !input.AllowJWK {
			return nil, errs.ACMEMalformedProblem("this resource requires a registered account key")
		}

		verifyKey = embeddedKey

		rawJWK, err := json.Marshal(embeddedKey)
		if err != nil {
			return nil, errs.ACMEBadPublicKeyProblem("could not encode public key")
		}

		verified.JWK = string(rawJWK)
	} else {
		if !input.AllowKID {
			return nil, errs.ACMEMalformedProblem("this resource requires a self signed request")
		}

		accountID, ok := accountIDFromKID(svc.directoryBaseURL, kid)
		if !ok {
			return nil, errs.ACMEMalformedProblem("kid %q is not an account URL of this server", kid)
		}

		exists, account, err := svc.accountRepo.SelectExistsByID(ctx, accountID)
		if err != nil {
			lFunc.Errorf("could not read account %s: %s", accountID, err)
			return nil, errs.ACMEServerInternalProblem("could not read account")
		}

		if !exists {
			return nil, errs.ACMEAccountDoesNotExistProblem()
		}

		if account.Status != models.AccountStatusValid {
			return nil, errs.ACMEUnauthorizedProblem("account %s is %s", accountID, account.Status)
		}

		verifyKey, err = jwk.ParseKey([]byte(account.Key))
		if err != nil {
			lFunc.Errorf("stored key of account %s is unreadable: %s", accountID, err)
			return nil, errs.ACMEServerInternalProblem("could not read account key")
		}

		verified.Account = account
		verified.JWK = account.Key
	}

	payload, err := jws.Verify(input.Body, jws.WithKey(alg, verifyKey))
	if err != nil {
		lFunc.Debugf("JWS signature verification failed: %s", err)
		return nil, errs.ACMEUnauthorizedProblem("JWS signature verification failed")
	}

	thumb, err := verifyKey.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, errs.ACMEBadPublicKeyProblem("could not compute key thumbprint")
	}

	verified.KeyThumbprint = base64.RawURLEncoding.EncodeToString(thumb)
	verified.Payload = payload
	verified.PostAsGet = len(payload) == 0

	return &verified, nil
}

func (svc *ACMEServiceBackend) CreateAccount(ctx context.Context, input services.CreateAccountInput) (*models.ACMEAccount, bool, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		lFunc.Errorf("CreateAccountInput struct validation error: %s", err)
		return nil, false, errs.ACMEMalformedProblem("invalid account request")
	}

	exists, account, err := svc.accountRepo.SelectExistsByKeyThumbprint(ctx, input.KeyThumbprint)
	if err != nil {
		lFunc.Errorf("could not look up account by key thumbprint: %s", err)
		return nil, false, errs.ACMEServerInternalProblem("could not look up account")
	}

	if exists {
		return account, true, nil
	}

	if input.OnlyReturnExisting {
		return nil, false, errs.ACMEAccountDoesNotExistProblem()
	}

	if err := svc.validateContacts(input.Contacts); err != nil {
		return nil, false, err
	}

	if svc.termsOfServiceURL != "" && !input.TermsAgreed {
		return nil, false, errs.ACMEMalformedProblem("terms of service must be agreed to")
	}

	now := time.Now()
	account = &models.ACMEAccount{
		ID:            goid.NewV4UUID().String(),
		Status:        models.AccountStatusValid,
		Contacts:      input.Contacts,
		TermsAgreed:   input.TermsAgreed,
		Key:           input.JWK,
		KeyThumbprint: input.KeyThumbprint,
		Metadata:      map[string]interface{}{},
		CreationTS:    now,
	}

	lFunc.Infof("registering ACME account %s", account.ID)
	account, err = svc.accountRepo.Insert(ctx, account)
	if err != nil {
		lFunc.Errorf("could not store account: %s", err)
		return nil, false, errs.ACMEServerInternalProblem("could not store account")
	}

	return account, false, nil
}

func (svc *ACMEServiceBackend) GetAccountByID(ctx context.Context, input services.GetAccountByIDInput) (*models.ACMEAccount, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		return nil, errs.ACMEMalformedProblem("invalid account request")
	}

	exists, account, err := svc.accountRepo.SelectExistsByID(ctx, input.AccountID)
	if err != nil {
		lFunc.Errorf("could not read account %s: %s", input.AccountID, err)
		return nil, errs.ACMEServerInternalProblem("could not read account")
	}

	if !exists {
		return nil, errs.ACMEAccountDoesNotExistProblem()
	}

	return account, nil
}

func (svc *ACMEServiceBackend) UpdateAccount(ctx context.Context, input services.UpdateAccountInput) (*models.ACMEAccount, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		return nil, errs.ACMEMalformedProblem("invalid account request")
	}

	exists, account, err := svc.accountRepo.SelectExistsByID(ctx, input.AccountID)
	if err != nil {
		lFunc.Errorf("could not read account %s: %s", input.AccountID, err)
		return nil, errs.ACMEServerInternalProblem("could not read account")
	}

	if !exists {
		return nil, errs.ACMEAccountDoesNotExistProblem()
	}

	if account.Status != models.AccountStatusValid {
		return nil, errs.ACMEUnauthorizedProblem("account %s is %s", account.ID, account.Status)
	}

	if input.Status == models.AccountStatusDeactivated {
		lFunc.Infof("deactivating ACME account %s", account.ID)
		account.Status = models.AccountStatusDeactivated

		// Deactivation abandons any unfinished orders.
		_, err = svc.orderRepo.SelectByAccountID(ctx, account.ID, storage.StorageListRequest[models.ACMEOrder]{
			ExhaustiveRun: true,
			ApplyFunc: func(order models.ACMEOrder) {
				if order.Status == models.OrderStatusPending || order.Status == models.OrderStatusReady || order.Status == models.OrderStatusProcessing {
					order.Status = models.OrderStatusInvalid
					if _, innerErr := svc.orderRepo.Update(ctx, &order); innerErr != nil {
						lFunc.Errorf("could not invalidate order %s: %s", order.ID, innerErr)
					}
				}
			},
		})
		if err != nil {
			lFunc.Errorf("could not iterate orders of account %s: %s", account.ID, err)
		}

		return svc.accountRepo.Update(ctx, account)
	}

	if input.Contacts != nil {
		if err := svc.validateContacts(input.Contacts); err != nil {
			return nil, err
		}

		account.Contacts = input.Contacts
	}

	return svc.accountRepo.Update(ctx, account)
}

func (svc *ACMEServiceBackend) CreateOrder(ctx context.Context, input services.CreateOrderInput) (*models.ACMEOrder, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		return nil, errs.ACMEMalformedProblem("order must carry at least one identifier")
	}

	if len(input.Identifiers) == 0 {
		return nil, errs.ACMEMalformedProblem("order must carry at least one identifier")
	}

	if input.NotBefore != nil && input.NotAfter != nil && input.NotAfter.Before(*input.NotBefore) {
		return nil, errs.ACMEMalformedProblem("notAfter precedes notBefore")
	}

	if input.NotAfter != nil {
		if input.NotAfter.Before(time.Now()) {
			return nil, errs.ACMEMalformedProblem("notAfter is in the past")
		}

		windowStart := time.Now()
		if input.NotBefore != nil {
			windowStart = *input.NotBefore
		}
		if input.NotAfter.Sub(windowStart) > svc.orderValidity {
			return nil, errs.ACMEMalformedProblem("requested certificate validity exceeds %s", svc.orderValidity)
		}
	}

	identifiers, err := svc.normalizeIdentifiers(input.Identifiers)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	orderID := goid.NewV4UUID().String()
	authzIDs := []string{}

	for _, identifier := range identifiers {
		wildcard := strings.HasPrefix(identifier.Value, "*.")
		value := strings.TrimPrefix(identifier.Value, "*.")

		authz := models.ACMEAuthorization{
			ID:        goid.NewV4UUID().String(),
			AccountID: input.AccountID,
			OrderID:   orderID,
			Identifier: models.ACMEIdentifier{
				Type:  identifier.Type,
				Value: value,
			},
			Status:   models.AuthorizationStatusPending,
			Wildcard: wildcard,
			Expires:  now.Add(svc.authzValidity),
		}

		if _, err := svc.authzRepo.Insert(ctx, &authz); err != nil {
			lFunc.Errorf("could not store authorization: %s", err)
			return nil, errs.ACMEServerInternalProblem("could not store authorization")
		}

		for _, challengeType := range challengeTypesFor(identifier.Type, wildcard) {
			token, err := randomToken()
			if err != nil {
				return nil, errs.ACMEServerInternalProblem("could not generate challenge token")
			}

			challenge := models.ACMEChallenge{
				ID:              goid.NewV4UUID().String(),
				AuthorizationID: authz.ID,
				Type:            challengeType,
				Token:           token,
				Status:          models.ChallengeStatusPending,
			}

			if _, err := svc.challengeRepo.Insert(ctx, &challenge); err != nil {
				lFunc.Errorf("could not store challenge: %s", err)
				return nil, errs.ACMEServerInternalProblem("could not store challenge")
			}
		}

		authzIDs = append(authzIDs, authz.ID)
	}

	order := models.ACMEOrder{
		ID:               orderID,
		AccountID:        input.AccountID,
		Status:           models.OrderStatusPending,
		Identifiers:      identifiers,
		NotBefore:        input.NotBefore,
		NotAfter:         input.NotAfter,
		Expires:          now.Add(svc.orderValidity),
		AuthorizationIDs: authzIDs,
		CreationTS:       now,
	}

	lFunc.Infof("ACME account %s created order %s for %d identifiers", input.AccountID, orderID, len(identifiers))
	return svc.orderRepo.Insert(ctx, &order)
}

func (svc *ACMEServiceBackend) GetOrderByID(ctx context.Context, input services.GetOrderByIDInput) (*models.ACMEOrder, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		return nil, errs.ACMEMalformedProblem("invalid order request")
	}

	exists, order, err := svc.orderRepo.SelectExistsByID(ctx, input.OrderID)
	if err != nil {
		lFunc.Errorf("could not read order %s: %s", input.OrderID, err)
		return nil, errs.ACMEServerInternalProblem("could not read order")
	}

	if !exists {
		return nil, errs.ACMEMalformedProblem("order %s does not exist", input.OrderID)
	}

	if order.AccountID != input.AccountID {
		return nil, errs.ACMEUnauthorizedProblem("order %s does not belong to this account", input.OrderID)
	}

	return svc.refreshOrderStatus(ctx, order)
}

func (svc *ACMEServiceBackend) ListOrdersByAccount(ctx context.Context, input services.ListOrdersByAccountInput) ([]models.ACMEOrder, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		return nil, errs.ACMEMalformedProblem("invalid orders request")
	}

	orders := []models.ACMEOrder{}
	_, err = svc.orderRepo.SelectByAccountID(ctx, input.AccountID, storage.StorageListRequest[models.ACMEOrder]{
		ExhaustiveRun: true,
		ApplyFunc: func(order models.ACMEOrder) {
			orders = append(orders, order)
		},
	})
	if err != nil {
		lFunc.Errorf("could not iterate orders of account %s: %s", input.AccountID, err)
		return nil, errs.ACMEServerInternalProblem("could not list orders")
	}

	return orders, nil
}

func (svc *ACMEServiceBackend) GetAuthorizationByID(ctx context.Context, input services.GetAuthorizationByIDInput) (*models.ACMEAuthorization, []models.ACMEChallenge, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		return nil, nil, errs.ACMEMalformedProblem("invalid authorization request")
	}

	exists, authz, err := svc.authzRepo.SelectExistsByID(ctx, input.AuthorizationID)
	if err != nil {
		lFunc.Errorf("could not read authorization %s: %s", input.AuthorizationID, err)
		return nil, nil, errs.ACMEServerInternalProblem("could not read authorization")
	}

	if !exists {
		return nil, nil, errs.ACMEMalformedProblem("authorization %s does not exist", input.AuthorizationID)
	}

	if authz.AccountID != input.AccountID {
		return nil, nil, errs.ACMEUnauthorizedProblem("authorization %s does not belong to this account", input.AuthorizationID)
	}

	if authz.Status == models.AuthorizationStatusPending && time.Now().After(authz.Expires) {
		authz.Status = models.AuthorizationStatusExpired
		if authz, err = svc.authzRepo.Update(ctx, authz); err != nil {
			return nil, nil, errs.ACMEServerInternalProblem("could not update authorization")
		}
	}

	challenges := []models.ACMEChallenge{}
	_, err = svc.challengeRepo.SelectByAuthorizationID(ctx, authz.ID, storage.StorageListRequest[models.ACMEChallenge]{
		ExhaustiveRun: true,
		ApplyFunc: func(challenge models.ACMEChallenge) {
			challenges = append(challenges, challenge)
		},
	})
	if err != nil {
		lFunc.Errorf("could not read challenges of authorization %s: %s", authz.ID, err)
		return nil, nil, errs.ACMEServerInternalProblem("could not read challenges")
	}

	return authz, challenges, nil
}

func (svc *ACMEServiceBackend) DeactivateAuthorization(ctx context.Context, input services.DeactivateAuthorizationInput) (*models.ACMEAuthorization, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		return nil, errs.ACMEMalformedProblem("invalid authorization request")
	}

	exists, authz, err := svc.authzRepo.SelectExistsByID(ctx, input.AuthorizationID)
	if err != nil {
		lFunc.Errorf("could not read authorization %s: %s", input.AuthorizationID, err)
		return nil, errs.ACMEServerInternalProblem("could not read authorization")
	}

	if !exists {
		return nil, errs.ACMEMalformedProblem("authorization %s does not exist", input.AuthorizationID)
	}

	if authz.AccountID != input.AccountID {
		return nil, errs.ACMEUnauthorizedProblem("authorization %s does not belong to this account", input.AuthorizationID)
	}

	if authz.Status != models.AuthorizationStatusPending && authz.Status != models.AuthorizationStatusValid {
		return nil, errs.ACMEMalformedProblem("authorization %s is %s and cannot be deactivated", authz.ID, authz.Status)
	}

	authz.Status = models.AuthorizationStatusDeactivated
	return svc.authzRepo.Update(ctx, authz)
}

func (svc *ACMEServiceBackend) TriggerChallenge(ctx context.Context, input services.TriggerChallengeInput) (*models.ACMEChallenge, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		return nil, errs.ACMEMalformedProblem("invalid challenge request")
	}

	exists, challenge, err := svc.challengeRepo.SelectExistsByID(ctx, input.ChallengeID)
	if err != nil {
		lFunc.Errorf("could not read challenge %s: %s", input.ChallengeID, err)
		return nil, errs.ACMEServerInternalProblem("could not read challenge")
	}

	if !exists {
		return nil, errs.ACMEMalformedProblem("challenge %s does not exist", input.ChallengeID)
	}

	authzExists, authz, err := svc.authzRepo.SelectExistsByID(ctx, challenge.AuthorizationID)
	if err != nil || !authzExists {
		lFunc.Errorf("could not read authorization %s of challenge %s: %s", challenge.AuthorizationID, challenge.ID, err)
		return nil, errs.ACMEServerInternalProblem("could not read authorization")
	}

	if authz.AccountID != input.AccountID {
		return nil, errs.ACMEUnauthorizedProblem("challenge %s does not belong to this account", input.ChallengeID)
	}

	if challenge.Status == models.ChallengeStatusValid {
		return challenge, nil
	}

	if challenge.Status != models.ChallengeStatusPending {
		return nil, errs.ACMEMalformedProblem("challenge %s is %s and cannot be triggered", challenge.ID, challenge.Status)
	}

	if authz.Status != models.AuthorizationStatusPending {
		return nil, errs.ACMEMalformedProblem("authorization %s is %s", authz.ID, authz.Status)
	}

	if time.Now().After(authz.Expires) {
		authz.Status = models.AuthorizationStatusExpired
		_, _ = svc.authzRepo.Update(ctx, authz)
		return nil, errs.ACMEMalformedProblem("authorization %s expired", authz.ID)
	}

	account, err := svc.service.GetAccountByID(ctx, services.GetAccountByIDInput{AccountID: input.AccountID})
	if err != nil {
		return nil, err
	}

	keyAuthorization := challenge.Token + "." + account.KeyThumbprint

	challenge.Status = models.ChallengeStatusProcessing
	if challenge, err = svc.challengeRepo.Update(ctx, challenge); err != nil {
		return nil, errs.ACMEServerInternalProblem("could not update challenge")
	}

	lFunc.Infof("validating %s challenge %s for %s", challenge.Type, challenge.ID, authz.Identifier.Value)
	validationErr := svc.validator.Validate(ctx, challenge, authz.Identifier, keyAuthorization)

	now := time.Now()
	if validationErr != nil {
		lFunc.Warnf("challenge %s failed: %s", challenge.ID, validationErr)

		challenge.Status = models.ChallengeStatusInvalid
		challenge.Error = problemDetails(validationErr)

		authz.Status = models.AuthorizationStatusInvalid
		if _, err := svc.authzRepo.Update(ctx, authz); err != nil {
			lFunc.Errorf("could not update authorization %s: %s", authz.ID, err)
		}

		svc.invalidateOrder(ctx, authz.OrderID)
	} else {
		challenge.Status = models.ChallengeStatusValid
		challenge.ValidatedAt = &now

		authz.Status = models.AuthorizationStatusValid
		if _, err := svc.authzRepo.Update(ctx, authz); err != nil {
			lFunc.Errorf("could not update authorization %s: %s", authz.ID, err)
		}
	}

	challenge, err = svc.challengeRepo.Update(ctx, challenge)
	if err != nil {
		return nil, errs.ACMEServerInternalProblem("could not update challenge")
	}

	// Settle the order so a follow up finalize sees the fresh state.
	if orderExists, order, err := svc.orderRepo.SelectExistsByID(ctx, authz.OrderID); err == nil && orderExists {
		_, _ = svc.refreshOrderStatus(ctx, order)
	}

	return challenge, nil
}

func (svc *ACMEServiceBackend) FinalizeOrder(ctx context.Context, input services.FinalizeOrderInput) (*models.ACMEOrder, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		return nil, errs.ACMEMalformedProblem("invalid finalize request")
	}

	order, err := svc.service.GetOrderByID(ctx, services.GetOrderByIDInput{
		AccountID: input.AccountID,
		OrderID:   input.OrderID,
	})
	if err != nil {
		return nil, err
	}

	if order.Status != models.OrderStatusReady {
		return nil, errs.ACMEOrderNotReadyProblem()
	}

	csr := (*x509.CertificateRequest)(input.CertRequest)
	if err := csr.CheckSignature(); err != nil {
		return nil, errs.ACMEBadCSRProblem("CSR signature verification failed")
	}

	if weakSignatureAlgorithm(csr.SignatureAlgorithm) {
		return nil, errs.ACMEBadSignatureAlgorithmProblem("CSR signature algorithm %s is not accepted", csr.SignatureAlgorithm)
	}

	if err := csrMatchesIdentifiers(csr, order.Identifiers); err != nil {
		return nil, err
	}

	// Claim the order with a conditional transition so concurrent
	// finalize requests issue at most one certificate.
	claimed, err := svc.orderRepo.TransitionStatus(ctx, order.ID, models.OrderStatusReady, models.OrderStatusProcessing)
	if err != nil {
		return nil, errs.ACMEServerInternalProblem("could not update order")
	}
	if !claimed {
		return nil, errs.ACMEOrderNotReadyProblem()
	}
	order.Status = models.OrderStatusProcessing

	cert, err := svc.caSDK.SignCertificate(ctx, services.SignCertificateInput{
		CAID:        svc.caID,
		CertRequest: input.CertRequest,
		ProfileID:   svc.profileID,
	})
	if err != nil {
		lFunc.Errorf("could not issue certificate for order %s: %s", order.ID, err)
		order.Status = models.OrderStatusInvalid
		_, _ = svc.orderRepo.Update(ctx, order)
		return nil, errs.ACMEServerInternalProblem("could not issue certificate")
	}

	order.Status = models.OrderStatusValid
	order.CertificateSerialNumber = cert.SerialNumber

	lFunc.Infof("order %s finalized. Issued certificate %s", order.ID, cert.SerialNumber)
	order, err = svc.orderRepo.Update(ctx, order)
	if err != nil {
		return nil, errs.ACMEServerInternalProblem("could not update order")
	}

	return order, nil
}

func (svc *ACMEServiceBackend) GetOrderCertificate(ctx context.Context, input services.GetOrderCertificateInput) ([]*models.X509Certificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := acmeValidate.Struct(input)
	if err != nil {
		return nil, errs.ACMEMalformedProblem("invalid certificate request")
	}

	order, err := svc.service.GetOrderByID(ctx, services.GetOrderByIDInput{
		AccountID: input.AccountID,
		OrderID:   input.OrderID,
	})
	if err != nil {
		return nil, err
	}

	if order.Status != models.OrderStatusValid || order.CertificateSerialNumber == "" {
		return nil, errs.ACMEOrderNotReadyProblem()
	}

	cert, err := svc.caSDK.GetCertificateBySerialNumber(ctx, services.GetCertificatesBySerialNumberInput{
		SerialNumber: order.CertificateSerialNumber,
	})
	if err != nil {
		lFunc.Errorf("could not read certificate %s: %s", order.CertificateSerialNumber, err)
		return nil, errs.ACMEServerInternalProblem("could not read certificate")
	}

	chain := []*models.X509Certificate{cert.Certificate}

	issuerID := cert.IssuerCAMetadata.ID
	for issuerID != "" {
		ca, err := svc.caSDK.GetCAByID(ctx, services.GetCAByIDInput{CAID: issuerID})
		if err != nil {
			break
		}

		chain = append(chain, ca.Certificate.Certificate)
		if ca.Level == 0 {
			break
		}

		issuerID = ca.Certificate.IssuerCAMetadata.ID
	}

	return chain, nil
}

// refreshOrderStatus recomputes an order from its authorizations and the
// clock, persisting any transition it observes.
func (svc *ACMEServiceBackend) refreshOrderStatus(ctx context.Context, order *models.ACMEOrder) (*models.ACMEOrder, error) {
	if order.Status == models.OrderStatusValid || order.Status == models.OrderStatusInvalid || order.Status == models.OrderStatusProcessing {
		return order, nil
	}

	if time.Now().After(order.Expires) {
		order.Status = models.OrderStatusInvalid
		return svc.orderRepo.Update(ctx, order)
	}

	allValid := true
	anyFailed := false
	_, err := svc.authzRepo.SelectByOrderID(ctx, order.ID, storage.StorageListRequest[models.ACMEAuthorization]{
		ExhaustiveRun: true,
		ApplyFunc: func(authz models.ACMEAuthorization) {
			status := authz.Status
			if status == models.AuthorizationStatusPending && time.Now().After(authz.Expires) {
				status = models.AuthorizationStatusExpired
				authz.Status = status
				_, _ = svc.authzRepo.Update(ctx, &authz)
			}

			switch status {
			case models.AuthorizationStatusValid:
			case models.AuthorizationStatusPending:
				allValid = false
			default:
				allValid = false
				anyFailed = true
			}
		},
	})
	if err != nil {
		return nil, errs.ACMEServerInternalProblem("could not read authorizations")
	}

	if anyFailed {
		order.Status = models.OrderStatusInvalid
		return svc.orderRepo.Update(ctx, order)
	}

	if allValid && order.Status == models.OrderStatusPending {
		order.Status = models.OrderStatusReady
		return svc.orderRepo.Update(ctx, order)
	}

	return order, nil
}

func (svc *ACMEServiceBackend) invalidateOrder(ctx context.Context, orderID string) {
	lFunc := svc.logger

	exists, order, err := svc.orderRepo.SelectExistsByID(ctx, orderID)
	if err != nil || !exists {
		return
	}

	if order.Status == models.OrderStatusPending || order.Status == models.OrderStatusReady {
		order.Status = models.OrderStatusInvalid
		if _, err := svc.orderRepo.Update(ctx, order); err != nil {
			lFunc.Errorf("could not invalidate order %s: %s", orderID, err)
		}
	}
}

func (svc *ACMEServiceBackend) validateContacts(contacts []string) error {
	if svc.requireContact && len(contacts) == 0 {
		return errs.ACMEInvalidContactProblem("at least one contact is required")
	}

	for _, contact := range contacts {
		if !strings.HasPrefix(contact, "mailto:") {
			return errs.ACMEUnsupportedContactProblem("contact %q uses an unsupported scheme", contact)
		}

		address := strings.TrimPrefix(contact, "mailto:")
		if address == "" || !strings.Contains(address, "@") || strings.Contains(address, ",") {
			return errs.ACMEInvalidContactProblem("contact %q is not a valid mailto address", contact)
		}
	}

	return nil
}

func (svc *ACMEServiceBackend) normalizeIdentifiers(identifiers []models.ACMEIdentifier) ([]models.ACMEIdentifier, error) {
	seen := map[string]bool{}
	normalized := []models.ACMEIdentifier{}

	for _, identifier := range identifiers {
		value := strings.ToLower(strings.TrimSpace(identifier.Value))

		switch identifier.Type {
		case models.IdentifierTypeDNS:
			wildcard := strings.HasPrefix(value, "*.")
			if wildcard && !svc.allowWildcards {
				return nil, errs.ACMERejectedIdentifierProblem("wildcard identifiers are not allowed")
			}

			hostname := strings.TrimPrefix(value, "*.")
			if !validDNSName(hostname) {
				return nil, errs.ACMERejectedIdentifierProblem("identifier %q is not a valid DNS name", identifier.Value)
			}
		case models.IdentifierTypeIP:
			if net.ParseIP(value) == nil {
				return nil, errs.ACMERejectedIdentifierProblem("identifier %q is not a valid IP address", identifier.Value)
			}
		default:
			return nil, errs.ACMEUnsupportedIdentifierProblem("identifier type %q is not supported", identifier.Type)
		}

		key := string(identifier.Type) + ":" + value
		if seen[key] {
			continue
		}

		seen[key] = true
		normalized = append(normalized, models.ACMEIdentifier{Type: identifier.Type, Value: value})
	}

	return normalized, nil
}

func challengeTypesFor(identifierType models.ACMEIdentifierType, wildcard bool) []models.ACMEChallengeType {
	if wildcard {
		// Wildcards can only be proven over DNS.
		return []models.ACMEChallengeType{models.ChallengeTypeDNS01}
	}

	if identifierType == models.IdentifierTypeIP {
		return []models.ACMEChallengeType{models.ChallengeTypeHTTP01, models.ChallengeTypeTLSALPN01}
	}

	return []models.ACMEChallengeType{
		models.ChallengeTypeHTTP01,
		models.ChallengeTypeDNS01,
		models.ChallengeTypeTLSALPN01,
	}
}

func csrMatchesIdentifiers(csr *x509.CertificateRequest, identifiers []models.ACMEIdentifier) error {
	expected := []string{}
	for _, identifier := range identifiers {
		expected = append(expected, strings.ToLower(identifier.Value))
	}

	got := []string{}
	for _, name := range csr.DNSNames {
		got = append(got, strings.ToLower(name))
	}
	for _, ip := range csr.IPAddresses {
		got = append(got, ip.String())
	}

	if csr.Subject.CommonName != "" {
		cn := strings.ToLower(csr.Subject.CommonName)
		found := false
		for _, name := range expected {
			if name == cn {
				found = true
				break
			}
		}

		if !found {
			return errs.ACMEBadCSRProblem("CSR common name %q is not an order identifier", csr.Subject.CommonName)
		}
	}

	sort.Strings(expected)
	got = dedupeStrings(got)

	if len(expected) != len(got) {
		return errs.ACMEBadCSRProblem("CSR names do not match the order identifiers")
	}

	for i := range expected {
		if expected[i] != got[i] {
			return errs.ACMEBadCSRProblem("CSR names do not match the order identifiers")
		}
	}

	return nil
}

func dedupeStrings(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	var prev string
	for i, s := range in {
		if i == 0 || s != prev {
			out = append(out, s)
		}
		prev = s
	}
	return out
}

func weakSignatureAlgorithm(alg x509.SignatureAlgorithm) bool {
	switch alg {
	case x509.MD2WithRSA, x509.MD5WithRSA, x509.SHA1WithRSA, x509.DSAWithSHA1, x509.DSAWithSHA256, x509.ECDSAWithSHA1:
		return true
	}
	return false
}

func signatureAlgorithmAllowed(alg jwa.SignatureAlgorithm) bool {
	for _, allowed := range acmeSignatureAlgorithms {
		if alg == allowed {
			return true
		}
	}
	return false
}

func accountIDFromKID(baseURL, kid string) (string, bool) {
	prefix := services.ACMEAccountURL(baseURL, "")
	if !strings.HasPrefix(kid, prefix) {
		return "", false
	}

	id := strings.TrimPrefix(kid, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}

	return id, true
}

func validDNSName(name string) bool {
	if name == "" || len(name) > 253 || strings.Contains(name, "*") {
		return false
	}

	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > 63 {
			return false
		}

		for _, r := range label {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
				return false
			}
		}

		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}

	return true
}

func randomToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func problemDetails(err error) *models.ACMEProblemDetails {
	if problem, ok := err.(*errs.ACMEProblem); ok {
		return &models.ACMEProblemDetails{
			Type:   problem.URN(),
			Detail: problem.Detail,
			Status: problem.HTTPStatus,
		}
	}

	return &models.ACMEProblemDetails{
		Type:   errs.ACMEServerInternalProblem("").URN(),
		Detail: err.Error(),
	}
}
