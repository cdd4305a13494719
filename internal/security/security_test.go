package security

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "unit-test-secret"

func TestMemberTokenRoundtrip(t *testing.T) {
	token, errGen := GenerateMemberToken(testSecret, 42, 7, "dev@example.com", time.Hour)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	claims, errParse := ParseMemberToken(testSecret, token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.MemberID != 42 || claims.OrgID != 7 || claims.Email != "dev@example.com" {
		t.Errorf("claims = %+v, want member 42 in org 7", claims)
	}
}

func TestOperatorTokenRoundtrip(t *testing.T) {
	token, errGen := GenerateOperatorToken(testSecret, 3, "root", time.Hour)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	claims, errParse := ParseOperatorToken(testSecret, token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.OperatorID != 3 || claims.Username != "root" {
		t.Errorf("claims = %+v, want operator 3", claims)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, errGen := GenerateMemberToken(testSecret, 1, 1, "a@b.c", time.Hour)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if _, err := ParseMemberToken("other-secret", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if _, err := ParseMemberToken(testSecret, "not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken for garbage", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, errGen := GenerateMemberToken(testSecret, 1, 1, "a@b.c", -time.Minute)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if _, err := ParseMemberToken(testSecret, token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestMemberAndOperatorTokensAreNotInterchangeable(t *testing.T) {
	memberToken, errGen := GenerateMemberToken(testSecret, 42, 7, "dev@example.com", time.Hour)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	claims, errParse := ParseOperatorToken(testSecret, memberToken)
	if errParse == nil && claims.OperatorID != 0 {
		t.Errorf("member token parsed as operator %d", claims.OperatorID)
	}
}

func TestPasswordHashAndCheck(t *testing.T) {
	hash, errHash := HashPassword("s3cret-passw0rd")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	if hash == "s3cret-passw0rd" {
		t.Fatal("hash equals the plaintext")
	}
	if !CheckPassword(hash, "s3cret-passw0rd") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("wrong password accepted")
	}
}
